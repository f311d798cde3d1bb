package auth

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/liftlog/internal/telemetry/metrics"
	"github.com/2beens/liftlog/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
)

const userPath = "/auth/v1/user"

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type errorResponse struct {
	Code      any    `json:"code"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"msg"`
	Alt       string `json:"message"`
}

// RemoteVerifier asks the identity provider who a token belongs to, and
// remembers the answer for a short while.
type RemoteVerifier struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	cache          *freecache.Cache
	cacheTTL       time.Duration
	metricsManager *metrics.Manager
}

func NewRemoteVerifier(
	baseURL, apiKey string,
	httpClient *http.Client,
	cacheSizeMB int,
	cacheTTL time.Duration,
	metricsManager *metrics.Manager,
) *RemoteVerifier {
	megabyte := 1024 * 1024
	return &RemoteVerifier{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiKey:         apiKey,
		httpClient:     httpClient,
		cache:          freecache.NewCache(cacheSizeMB * megabyte),
		cacheTTL:       cacheTTL,
		metricsManager: metricsManager,
	}
}

func (v *RemoteVerifier) Authenticate(ctx context.Context, bearerToken string) (_ Identity, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "auth.remote.authenticate")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	bearerToken = strings.TrimSpace(bearerToken)
	if bearerToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	cacheKey := tokenCacheKey(bearerToken)
	if cached, err := v.cache.Get(cacheKey); err == nil {
		var identity Identity
		if err := json.Unmarshal(cached, &identity); err == nil {
			if v.metricsManager != nil {
				v.metricsManager.CounterAuthCacheHits.Inc()
			}
			return identity, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+userPath, nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("apikey", v.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("identity provider request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Errorf("close identity provider response body: %s", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Identity{}, fmt.Errorf("read identity provider response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Identity{}, classifyRejection(body)
	default:
		return Identity{}, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var user userResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return Identity{}, fmt.Errorf("decode identity provider user: %w", err)
	}
	if user.ID == "" {
		return Identity{}, fmt.Errorf("%w: provider returned no user id", ErrUnauthenticated)
	}

	identity := Identity{UserID: user.ID, Email: user.Email}
	if encoded, err := json.Marshal(identity); err == nil {
		if err := v.cache.Set(cacheKey, encoded, int(v.cacheTTL.Seconds())); err != nil {
			log.Warnf("cache identity: %s", err)
		}
	}

	return identity, nil
}

func classifyRejection(body []byte) error {
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)
	text := strings.ToLower(errResp.ErrorCode + " " + errResp.Message + " " + errResp.Alt)
	if strings.Contains(text, "expired") {
		return ErrTokenExpired
	}
	return ErrUnauthenticated
}

func tokenCacheKey(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}
