package auth

import "context"

type contextKey struct{}

// AuthContext describes the signed-in user. HouseholdID is zero until the
// session has selected a household.
type AuthContext struct {
	UserID      int64
	HouseholdID int64
	Role        string
	SessionID   int64
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func HouseholdID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.HouseholdID
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

// Viewer returns the signed-in user's ID, or nil when nobody is signed in.
func Viewer(ctx context.Context) *int64 {
	ac, ok := FromContext(ctx)
	if !ok || ac.UserID == 0 {
		return nil
	}
	id := ac.UserID
	return &id
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == "admin"
}
