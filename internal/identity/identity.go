// Package identity defines the identity collaborator the router consumes:
// resolving a chat identity to a linked account with effective permissions,
// and the credential flows that create that link.
package identity

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all Service implementations.
var (
	// ErrInvalidCredentials is returned when login or password is wrong.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrLoginTaken is returned by Register when the login already exists.
	ErrLoginTaken = errors.New("identity: login already taken")
	// ErrNotLinked is returned when an operation needs a linked chat.
	ErrNotLinked = errors.New("identity: chat is not linked")
	// ErrInvalidInput is returned for malformed login or password values.
	ErrInvalidInput = errors.New("identity: invalid input")
)

// Link is the identity of one chat user as seen by the router.
type Link struct {
	Linked bool
	UserID string
	Login  string
	Roles  []string
	Perms  []string
}

// TokenEnvelope is returned by the credential endpoints.
type TokenEnvelope struct {
	UserID      string
	Login       string
	AccessToken string
	ExpiresAt   time.Time
}

// Service is the identity collaborator contract.
type Service interface {
	// Resolve returns the link state of externalUserID on providerCode.
	Resolve(ctx context.Context, providerCode, externalUserID string) (Link, error)
	// Login verifies credentials and links the chat identity to the account.
	Login(ctx context.Context, providerCode, externalUserID, login, password string) (TokenEnvelope, error)
	// Register creates an account and links the chat identity to it.
	Register(ctx context.Context, providerCode, externalUserID, login, password string) (TokenEnvelope, error)
	// Unlink removes the chat identity link.
	Unlink(ctx context.Context, providerCode, externalUserID string) error
	// IssueAccessToken issues a fresh access token for userID.
	IssueAccessToken(ctx context.Context, userID string) (string, error)
}

// EffectivePermissions applies per-user overrides to role grants. An ALLOW
// override adds a permission and a DENY override removes it; overrides win
// over role grants in both directions. The result is sorted.
func EffectivePermissions(rolePerms []string, allow, deny []string) []string {
	set := make(map[string]struct{}, len(rolePerms)+len(allow))
	for _, p := range rolePerms {
		set[p] = struct{}{}
	}
	for _, p := range allow {
		set[p] = struct{}{}
	}
	for _, p := range deny {
		delete(set, p)
	}
	return sortedKeys(set)
}
