package principal

import "context"

// Role values supplied by the upstream auth layer. The engine trusts the
// authenticated principal and performs no credential checks itself.
const (
	RoleAdmin   = "admin"
	RolePartner = "partner"
	RoleSystem  = "system"
)

// Principal is the authenticated caller identity.
type Principal struct {
	ID   string
	Role string
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

func (p Principal) IsAdmin() bool  { return p.Role == RoleAdmin }
func (p Principal) IsSystem() bool { return p.Role == RoleSystem }
