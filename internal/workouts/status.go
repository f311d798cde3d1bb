package workouts

import (
	"fmt"
)

// Status is the provenance tag of a cached record.
type Status int

const (
	// StatusPending - created locally, not yet confirmed by the remote store.
	StatusPending Status = iota + 1
	// StatusSynced - present in both the local cache and the remote store under the same id.
	StatusSynced
	// StatusRemoteOnly - fetched from the remote store, not yet written to the local cache.
	StatusRemoteOnly
)

// Event moves a record between statuses.
type Event int

const (
	EventPushConfirmed Event = iota + 1
	EventPushFailed
	EventCached
	EventRefreshed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSynced:
		return "synced"
	case StatusRemoteOnly:
		return "remote-only"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (e Event) String() string {
	switch e {
	case EventPushConfirmed:
		return "push-confirmed"
	case EventPushFailed:
		return "push-failed"
	case EventCached:
		return "cached"
	case EventRefreshed:
		return "refreshed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Transition is the single place where statuses change.
//
//	pending     + push-confirmed -> synced
//	pending     + push-failed    -> pending
//	remote-only + cached         -> synced
//	synced      + cached         -> synced
//	synced      + refreshed      -> synced
//	remote-only + refreshed      -> remote-only
//
// Everything else is illegal.
func (s Status) Transition(e Event) (Status, error) {
	switch s {
	case StatusPending:
		switch e {
		case EventPushConfirmed:
			return StatusSynced, nil
		case EventPushFailed:
			return StatusPending, nil
		case EventCached, EventRefreshed:
		}
	case StatusSynced:
		switch e {
		case EventCached, EventRefreshed:
			return StatusSynced, nil
		case EventPushConfirmed, EventPushFailed:
		}
	case StatusRemoteOnly:
		switch e {
		case EventCached:
			return StatusSynced, nil
		case EventRefreshed:
			return StatusRemoteOnly, nil
		case EventPushConfirmed, EventPushFailed:
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, e, s)
}

func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusPending, StatusSynced, StatusRemoteOnly:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown status: %d", int(s))
	}
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatusPending
	case "synced":
		*s = StatusSynced
	case "remote-only":
		*s = StatusRemoteOnly
	default:
		return fmt.Errorf("unknown status: %s", text)
	}
	return nil
}
