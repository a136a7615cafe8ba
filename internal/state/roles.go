package state

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotAdmin           = errors.New("caller is not the administrator")
	ErrNotWhitelister     = errors.New("caller is not the whitelister")
	ErrTrustedEntityFull  = errors.New("trusted entity list is full")
	ErrTrustedEntityKnown = errors.New("entity is already trusted")
	ErrWhitelistFull      = errors.New("token whitelist is full")
	ErrTokenWhitelisted   = errors.New("token is already whitelisted")
	ErrTokenNotAllowed    = errors.New("token is not whitelisted")
)

// Capacity bounds on the role records.
const (
	MaxWhitelistedTokens = 7
	MaxTrustedEntities   = 10
)

// RoleSet holds the privileged identities. The admin appoints the
// whitelister and trusted entities; the whitelister admits tokens.
type RoleSet struct {
	Admin       uuid.UUID   `json:"admin"`
	Whitelister uuid.UUID   `json:"whitelister"`
	Trusted     []uuid.UUID `json:"trusted"`
}

func NewRoleSet(admin uuid.UUID) *RoleSet {
	return &RoleSet{
		Admin:   admin,
		Trusted: make([]uuid.UUID, 0, MaxTrustedEntities),
	}
}

// SetWhitelister appoints the whitelister. Admin only.
func (rs *RoleSet) SetWhitelister(caller, whitelister uuid.UUID) error {
	if caller != rs.Admin {
		return ErrNotAdmin
	}
	rs.Whitelister = whitelister
	return nil
}

// AddTrustedEntity records an entity allowed to submit matched orders.
// Admin only, bounded, no duplicates.
func (rs *RoleSet) AddTrustedEntity(caller, entity uuid.UUID) error {
	if caller != rs.Admin {
		return ErrNotAdmin
	}
	if len(rs.Trusted) >= MaxTrustedEntities {
		return ErrTrustedEntityFull
	}
	for _, known := range rs.Trusted {
		if known == entity {
			return ErrTrustedEntityKnown
		}
	}

	rs.Trusted = append(rs.Trusted, entity)
	return nil
}

// IsTrusted reports whether an entity may submit matched orders.
func (rs *RoleSet) IsTrusted(entity uuid.UUID) bool {
	for _, known := range rs.Trusted {
		if known == entity {
			return true
		}
	}
	return false
}

// TokenWhitelist is the bounded set of assets admitted to the venue.
type TokenWhitelist struct {
	Tokens []string `json:"tokens"`
}

func NewTokenWhitelist() *TokenWhitelist {
	return &TokenWhitelist{Tokens: make([]string, 0, MaxWhitelistedTokens)}
}

// Add admits a token. The caller must be the whitelister.
func (tw *TokenWhitelist) Add(rs *RoleSet, caller uuid.UUID, token string) error {
	if caller != rs.Whitelister {
		return ErrNotWhitelister
	}
	if len(tw.Tokens) >= MaxWhitelistedTokens {
		return ErrWhitelistFull
	}
	if tw.Contains(token) {
		return ErrTokenWhitelisted
	}

	tw.Tokens = append(tw.Tokens, token)
	return nil
}

// Contains reports whether a token is admitted.
func (tw *TokenWhitelist) Contains(token string) bool {
	for _, known := range tw.Tokens {
		if known == token {
			return true
		}
	}
	return false
}
