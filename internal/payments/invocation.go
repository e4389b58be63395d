package payments

import (
	"sync"
	"time"

	"github.com/wolfman30/storefront-booking/internal/payapi"
)

// ResultKind names the three ways a gateway handoff can end.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultError   ResultKind = "error"
	ResultClosed  ResultKind = "close"
)

// GatewayResult is exactly one of success, error or closed.
type GatewayResult struct {
	Kind           ResultKind
	TransactionRef string
	CallbackData   *payapi.CallbackData
	Message        string
}

func Success(transactionRef string, data *payapi.CallbackData) GatewayResult {
	return GatewayResult{Kind: ResultSuccess, TransactionRef: transactionRef, CallbackData: data}
}

func Failure(message string) GatewayResult {
	return GatewayResult{Kind: ResultError, Message: message}
}

func Closed() GatewayResult {
	return GatewayResult{Kind: ResultClosed}
}

// Invocation is one opened gateway checkout. It resolves at most once.
type Invocation struct {
	TransactionRef string
	SessionID      string
	StoreID        string
	OpenedAt       time.Time

	once   sync.Once
	done   chan struct{}
	result GatewayResult
}

func newInvocation(ref, sessionID, storeID string, now time.Time) *Invocation {
	return &Invocation{
		TransactionRef: ref,
		SessionID:      sessionID,
		StoreID:        storeID,
		OpenedAt:       now,
		done:           make(chan struct{}),
	}
}

// Resolve records r if nothing was recorded yet and reports whether it won.
func (i *Invocation) Resolve(r GatewayResult) bool {
	won := false
	i.once.Do(func() {
		if r.Kind == ResultSuccess && r.TransactionRef == "" {
			r.TransactionRef = i.TransactionRef
		}
		i.result = r
		won = true
		close(i.done)
	})
	return won
}

// Result returns the winning result, if any.
func (i *Invocation) Result() (GatewayResult, bool) {
	select {
	case <-i.done:
		return i.result, true
	default:
		return GatewayResult{}, false
	}
}

// Registry tracks open invocations by transaction reference.
type Registry struct {
	mu    sync.Mutex
	items map[string]*Invocation
	ttl   time.Duration
	now   func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Registry{items: make(map[string]*Invocation), ttl: ttl, now: time.Now}
}

// Open returns the live invocation for ref, replacing a resolved one so a
// retried payment on the same order gets a fresh handoff.
func (r *Registry) Open(ref, sessionID, storeID string) *Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	if inv, ok := r.items[ref]; ok {
		if _, resolved := inv.Result(); !resolved {
			return inv
		}
	}
	inv := newInvocation(ref, sessionID, storeID, r.now())
	r.items[ref] = inv
	return inv
}

// Resolve resolves the invocation for ref, opening one if this instance
// never saw the handoff. It returns the invocation and whether r won.
func (r *Registry) Resolve(ref string, result GatewayResult) (*Invocation, bool) {
	r.mu.Lock()
	inv, ok := r.items[ref]
	if !ok {
		inv = newInvocation(ref, "", "", r.now())
		r.items[ref] = inv
	}
	r.mu.Unlock()
	return inv, inv.Resolve(result)
}

func (r *Registry) Get(ref string) (*Invocation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.items[ref]
	return inv, ok
}

func (r *Registry) Forget(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, ref)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Registry) sweepLocked() {
	cutoff := r.now().Add(-r.ttl)
	for ref, inv := range r.items {
		if inv.OpenedAt.Before(cutoff) {
			delete(r.items, ref)
		}
	}
}
