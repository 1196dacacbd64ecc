package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/tasksync/pkg/models"
)

// DefaultDeliveryTimeout bounds a single delivery attempt to one observer.
const DefaultDeliveryTimeout = 2 * time.Second

// Observer receives payloads broadcast to the workspace it subscribed to.
// Deliver must honour ctx; an error (or a deadline miss) evicts the observer.
type Observer[T any] interface {
	Deliver(ctx context.Context, payload T) error
}

// Evictable is implemented by observers whose owner must learn that the
// registry dropped them, so it can stop consuming and resubscribe.
type Evictable interface {
	Evicted(err error)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc[T any] func(ctx context.Context, payload T) error

// Deliver calls f(ctx, payload).
func (f ObserverFunc[T]) Deliver(ctx context.Context, payload T) error {
	return f(ctx, payload)
}

// Subscription is the handle returned by Subscribe. It is scoped to exactly
// one workspace key for its whole lifetime.
type Subscription[T any] struct {
	ID           string
	WorkspaceKey string
	CreatedAt    time.Time

	observer Observer[T]
}

// BroadcastResult reports the outcome of one broadcast call.
type BroadcastResult struct {
	Attempted int
	Delivered int
	Evicted   []string
}

// EvictionHandler is notified after an observer has been removed because a
// delivery failed.
type EvictionHandler func(workspaceKey, subscriptionID string, err error)

// Registry keeps, per workspace key, the set of live observers and fans
// payloads out to them. Failures are isolated per observer: a failing observer
// is unsubscribed and the remaining observers still receive the payload.
//
// Registry does not order concurrent broadcasts for the same key; callers that
// need ordering serialise Broadcast per key (see SyncService).
type Registry[T any] struct {
	mu      sync.RWMutex
	subs    map[string]map[string]*Subscription[T]
	timeout time.Duration
	logger  *slog.Logger
	onEvict EvictionHandler
	now     func() time.Time
}

// RegistryOption customises a Registry.
type RegistryOption[T any] func(*Registry[T])

// WithDeliveryTimeout sets the per-observer delivery bound.
func WithDeliveryTimeout[T any](d time.Duration) RegistryOption[T] {
	return func(r *Registry[T]) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRegistryLogger sets the logger used for delivery failures.
func WithRegistryLogger[T any](l *slog.Logger) RegistryOption[T] {
	return func(r *Registry[T]) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEvictionHandler registers a callback invoked for every eviction.
func WithEvictionHandler[T any](h EvictionHandler) RegistryOption[T] {
	return func(r *Registry[T]) { r.onEvict = h }
}

// NewRegistry creates an empty Registry.
func NewRegistry[T any](opts ...RegistryOption[T]) *Registry[T] {
	r := &Registry[T]{
		subs:    make(map[string]map[string]*Subscription[T]),
		timeout: DefaultDeliveryTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe adds observer to the set for workspaceKey, creating the set if
// needed, and returns the handle used to remove it later.
func (r *Registry[T]) Subscribe(workspaceKey string, observer Observer[T]) (*Subscription[T], error) {
	if observer == nil {
		return nil, fmt.Errorf("subscribing to %q: observer is nil", workspaceKey)
	}
	if workspaceKey == "" {
		return nil, fmt.Errorf("subscribing: workspace key is empty")
	}

	sub := &Subscription[T]{
		ID:           uuid.NewString(),
		WorkspaceKey: workspaceKey,
		CreatedAt:    r.now(),
		observer:     observer,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[workspaceKey]
	if !ok {
		set = make(map[string]*Subscription[T])
		r.subs[workspaceKey] = set
	}
	set[sub.ID] = sub
	return sub, nil
}

// Unsubscribe removes the subscription. It is idempotent and safe to call
// concurrently with an in-flight Broadcast; it reports whether the
// subscription was still registered. When the last observer of a workspace
// leaves, the workspace entry is dropped.
func (r *Registry[T]) Unsubscribe(sub *Subscription[T]) bool {
	if sub == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(sub.WorkspaceKey, sub.ID)
}

func (r *Registry[T]) removeLocked(workspaceKey, id string) bool {
	set, ok := r.subs[workspaceKey]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.subs, workspaceKey)
	}
	return true
}

// Broadcast delivers payload to every observer currently registered under
// workspaceKey. Each delivery is attempted independently and concurrently,
// bounded by the delivery timeout. Observers that fail are unsubscribed.
// Broadcasting to a key without observers is a no-op.
func (r *Registry[T]) Broadcast(ctx context.Context, workspaceKey string, payload T) BroadcastResult {
	targets := r.snapshot(workspaceKey)
	result := BroadcastResult{Attempted: len(targets)}
	if len(targets) == 0 {
		return result
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, sub := range targets {
		wg.Add(1)
		go func(i int, sub *Subscription[T]) {
			defer wg.Done()
			errs[i] = r.deliver(ctx, sub, payload)
		}(i, sub)
	}
	wg.Wait()

	for i, sub := range targets {
		if errs[i] == nil {
			result.Delivered++
			continue
		}
		if r.evict(sub, errs[i]) {
			result.Evicted = append(result.Evicted, sub.ID)
		}
	}
	return result
}

// Deliver sends payload to a single subscription with the same timeout and
// eviction rules as Broadcast. It is used to replay the current state to a
// newly joined observer.
func (r *Registry[T]) Deliver(ctx context.Context, sub *Subscription[T], payload T) error {
	if err := r.deliver(ctx, sub, payload); err != nil {
		r.evict(sub, err)
		return err
	}
	return nil
}

// deliver runs one delivery attempt. An observer that does not return within
// the timeout is treated as failed even if it ignores ctx.
func (r *Registry[T]) deliver(ctx context.Context, sub *Subscription[T], payload T) (err error) {
	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("observer panicked: %v", p)
			}
		}()
		done <- sub.observer.Deliver(dctx, payload)
	}()

	select {
	case err = <-done:
	case <-dctx.Done():
		err = dctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: subscription %s: %w", models.ErrObserverDelivery, sub.ID, err)
	}
	return nil
}

func (r *Registry[T]) evict(sub *Subscription[T], err error) bool {
	r.mu.Lock()
	removed := r.removeLocked(sub.WorkspaceKey, sub.ID)
	r.mu.Unlock()

	if !removed {
		return false
	}
	r.logger.Warn("evicting observer", "workspace", sub.WorkspaceKey, "subscription", sub.ID, "error", err)
	if e, ok := sub.observer.(Evictable); ok {
		e.Evicted(err)
	}
	if r.onEvict != nil {
		r.onEvict(sub.WorkspaceKey, sub.ID, err)
	}
	return true
}

// snapshot copies the current observer set for workspaceKey, ordered by
// subscription time so delivery attempts are deterministic.
func (r *Registry[T]) snapshot(workspaceKey string) []*Subscription[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.subs[workspaceKey]
	out := make([]*Subscription[T], 0, len(set))
	for _, sub := range set {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of observers registered under workspaceKey.
func (r *Registry[T]) Count(workspaceKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[workspaceKey])
}

// Total returns the number of observers across all workspaces.
func (r *Registry[T]) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.subs {
		n += len(set)
	}
	return n
}

// Workspaces returns the keys that currently have at least one observer.
func (r *Registry[T]) Workspaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsDeliveryFailure reports whether err came from a failed observer delivery.
func IsDeliveryFailure(err error) bool {
	return errors.Is(err, models.ErrObserverDelivery)
}
