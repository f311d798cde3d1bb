package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/2beens/liftlog/internal/auth"
	"github.com/2beens/liftlog/internal/telemetry/metrics"
	"github.com/2beens/liftlog/internal/workouts"
	"github.com/2beens/liftlog/internal/workouts/cache"
	"github.com/2beens/liftlog/internal/workouts/remote"

	log "github.com/sirupsen/logrus"
)

type NewRegistryParams struct {
	Cache          cache.Store
	Remote         remote.Store
	Validator      *workouts.Validator
	MetricsManager *metrics.Manager
	RemoteTimeout  time.Duration
}

// Registry holds one Reconciler per (user, device).
type Registry struct {
	params NewRegistryParams

	mu       sync.Mutex
	sessions map[cache.Key]*Reconciler
}

func NewRegistry(params NewRegistryParams) *Registry {
	if params.MetricsManager == nil {
		params.MetricsManager = metrics.NewTestManager()
	}
	return &Registry{
		params:   params,
		sessions: make(map[cache.Key]*Reconciler),
	}
}

// Session returns the user's reconciler for the device. The first time it is
// asked for, the reconciler is loaded from the local cache and reloaded from
// the remote store. Sessions are never evicted, so two reconcilers never
// share a cache key.
func (r *Registry) Session(ctx context.Context, identity auth.Identity, deviceID string) (*Reconciler, error) {
	session, created, err := r.open(ctx, identity, deviceID)
	if err != nil {
		return nil, err
	}
	if created {
		r.reload(ctx, session, "new session")
	}
	return session, nil
}

func (r *Registry) open(ctx context.Context, identity auth.Identity, deviceID string) (*Reconciler, bool, error) {
	key := cache.Key{UserID: identity.UserID, DeviceID: deviceID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[key]; ok {
		return session, false, nil
	}

	session := NewReconciler(NewReconcilerParams{
		Key:            key,
		Cache:          r.params.Cache,
		Remote:         r.params.Remote,
		Validator:      r.params.Validator,
		MetricsManager: r.params.MetricsManager,
		RemoteTimeout:  r.params.RemoteTimeout,
	})
	if err := session.Load(ctx); err != nil {
		return nil, false, err
	}

	r.sessions[key] = session
	r.params.MetricsManager.GaugeActiveSessions.Set(float64(len(r.sessions)))
	return session, true, nil
}

// HandleIdentityChange reloads the new identity's view on the device from the
// remote store. The previous identity's session stays registered.
func (r *Registry) HandleIdentityChange(ctx context.Context, change auth.IdentityChange) {
	session, _, err := r.open(ctx, change.Current, change.DeviceID)
	if err != nil {
		log.Errorf("identity change [%s]: open session: %s", change.DeviceID, err)
		return
	}
	r.reload(ctx, session, "identity change")
}

func (r *Registry) reload(ctx context.Context, session *Reconciler, reason string) {
	key := session.Key()
	result, err := session.Reload(ctx)
	if err != nil {
		log.Warnf("%s [%s]: reload: %s, serving the local cache", reason, key.DeviceID, err)
		return
	}
	log.Debugf("%s [%s]: reloaded %d records for %s", reason, key.DeviceID, result.Fetched, key.UserID)
}
