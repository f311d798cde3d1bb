package auth

import (
	"context"
	"sync"
)

// IdentityChange is published when a device starts acting as another user.
// Previous is nil on the device's first authenticated request.
type IdentityChange struct {
	DeviceID string
	Previous *Identity
	Current  Identity
}

type IdentityHandler func(ctx context.Context, change IdentityChange)

// Notifier remembers which identity each device last used and tells
// subscribers when it changes. Handlers run synchronously, in subscription order.
type Notifier struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]IdentityHandler
	order    []int
	devices  map[string]Identity
}

func NewNotifier() *Notifier {
	return &Notifier{
		handlers: make(map[int]IdentityHandler),
		devices:  make(map[string]Identity),
	}
}

// Subscribe registers handler; the returned func removes it.
func (n *Notifier) Subscribe(handler IdentityHandler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.handlers[id] = handler
	n.order = append(n.order, id)

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.handlers, id)
		for i, hid := range n.order {
			if hid == id {
				n.order = append(n.order[:i], n.order[i+1:]...)
				break
			}
		}
	}
}

// Observe records that deviceID is now used by identity, and publishes a
// change when that differs from what the device used before.
func (n *Notifier) Observe(ctx context.Context, deviceID string, identity Identity) bool {
	n.mu.Lock()
	previous, seen := n.devices[deviceID]
	if seen && previous == identity {
		n.mu.Unlock()
		return false
	}
	n.devices[deviceID] = identity

	handlers := make([]IdentityHandler, 0, len(n.order))
	for _, id := range n.order {
		handlers = append(handlers, n.handlers[id])
	}
	n.mu.Unlock()

	change := IdentityChange{DeviceID: deviceID, Current: identity}
	if seen {
		change.Previous = &previous
	}
	for _, handler := range handlers {
		handler(ctx, change)
	}
	return true
}
