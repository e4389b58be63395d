package wizard

import "context"

type identityKey struct{}

// WithIdentity attaches the signed-in customer to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	if id == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the signed-in customer, or nil for guests.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// OwnedBy reports whether the caller may act on the session. Guest sessions
// are reachable by id alone; customer sessions only by that customer.
func (s *Session) OwnedBy(caller *Identity) bool {
	if s.Identity == nil {
		return true
	}
	return caller != nil && caller.CustomerID == s.Identity.CustomerID
}
