// Package identity resolves bearer credentials into principals.
//
// A principal carries the role, subscription tier, and unlock-unit usage of
// the authenticated user. Only the token's subject is trusted; role, tier,
// and usage are re-fetched from the user store on every request because they
// change frequently and authorization must see the latest state.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredential = errors.New("identity: invalid credential")
	ErrExpiredCredential = errors.New("identity: expired credential")
	ErrPrincipalNotFound = errors.New("identity: principal not found")
)

// Role identifies what kind of account a principal is.
type Role string

const (
	RoleTenant   Role = "TENANT"
	RoleLandlord Role = "LANDLORD"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

// Tier identifies the subscription tier.
type Tier string

const (
	TierFree      Tier = "FREE"
	TierBasic     Tier = "BASIC"
	TierRelax     Tier = "RELAX"
	TierSuperuser Tier = "SUPERUSER"
)

// Principal is the authenticated identity making a request. It is built
// fresh per request from persisted user state and never mutated by the core.
type Principal struct {
	ID                    string     `json:"id"`
	Role                  Role       `json:"role"`
	Tier                  Tier       `json:"tier"`
	UnitsUsed             int        `json:"unitsUsed"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`
}

// User is the persisted account record behind a principal.
type User struct {
	ID                    string
	Name                  string
	Role                  Role
	Tier                  Tier
	UnitsUsed             int
	SubscriptionExpiresAt *time.Time
	CreatedAt             time.Time
}

// UserStore loads user state for principal resolution.
type UserStore interface {
	Load(ctx context.Context, id string) (*User, error)
}

// Resolver turns a bearer credential into a Principal.
type Resolver struct {
	verifier *TokenVerifier
	users    UserStore
}

// NewResolver creates a resolver backed by the given verifier and user store.
func NewResolver(verifier *TokenVerifier, users UserStore) *Resolver {
	return &Resolver{verifier: verifier, users: users}
}

// Resolve validates the credential and loads the current principal state.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*Principal, error) {
	subject, err := r.verifier.Verify(credential)
	if err != nil {
		return nil, err
	}

	user, err := r.users.Load(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}

	return &Principal{
		ID:                    user.ID,
		Role:                  user.Role,
		Tier:                  user.Tier,
		UnitsUsed:             user.UnitsUsed,
		SubscriptionExpiresAt: user.SubscriptionExpiresAt,
	}, nil
}

// HasRole reports whether the principal holds one of the allowed roles.
// Fails closed: a nil principal or empty allow-list never passes.
func HasRole(p *Principal, allowed ...Role) bool {
	if p == nil || len(allowed) == 0 {
		return false
	}
	for _, role := range allowed {
		if p.Role == role {
			return true
		}
	}
	return false
}

// HasTier reports whether the principal is on one of the allowed tiers.
// Fails closed like HasRole.
func HasTier(p *Principal, allowed ...Tier) bool {
	if p == nil || len(allowed) == 0 {
		return false
	}
	for _, tier := range allowed {
		if p.Tier == tier {
			return true
		}
	}
	return false
}

// ValidRole reports whether the role value is recognised.
func ValidRole(r Role) bool {
	switch r {
	case RoleTenant, RoleLandlord, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// ValidTier reports whether the tier value is recognised.
func ValidTier(t Tier) bool {
	switch t {
	case TierFree, TierBasic, TierRelax, TierSuperuser:
		return true
	}
	return false
}
