// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/usertasks/internal/logger"
)

// =============================================================================
// ROLES
// =============================================================================

// Role is a named bundle of permissions.
type Role string

const (
	// RoleAdmin may do anything to any record.
	RoleAdmin Role = "admin"

	// RoleOperator may view and cancel any record and delete its own.
	RoleOperator Role = "operator"

	// RoleAuditor has read-only access to every record.
	RoleAuditor Role = "auditor"

	// RoleUser may view, cancel and delete its own records.
	RoleUser Role = "user"
)

// Scope is how far a granted permission reaches.
type Scope int

const (
	// ScopeNone grants nothing
	ScopeNone Scope = iota

	// ScopeOwn covers records owned by the caller
	ScopeOwn

	// ScopeAny covers every record
	ScopeAny
)

// Covers reports whether the scope reaches a record owned by owner.
func (s Scope) Covers(caller, owner string) bool {
	switch s {
	case ScopeAny:
		return true
	case ScopeOwn:
		return caller != "" && caller == owner
	default:
		return false
	}
}

// rolePermissions is the permission matrix for each role.
var rolePermissions = map[Role]map[Permission]Scope{
	RoleAdmin: {
		PermViewStatus:     ScopeAny,
		PermCancelStatus:   ScopeAny,
		PermChangeStatus:   ScopeAny,
		PermDeleteStatus:   ScopeAny,
		PermViewArtifact:   ScopeAny,
		PermChangeArtifact: ScopeAny,
		PermDeleteArtifact: ScopeAny,
	},
	RoleOperator: {
		PermViewStatus:   ScopeAny,
		PermCancelStatus: ScopeAny,
		PermDeleteStatus: ScopeOwn,
		PermViewArtifact: ScopeAny,
	},
	RoleAuditor: {
		PermViewStatus:   ScopeAny,
		PermViewArtifact: ScopeAny,
	},
	RoleUser: {
		PermViewStatus:   ScopeOwn,
		PermCancelStatus: ScopeOwn,
		PermDeleteStatus: ScopeOwn,
		PermViewArtifact: ScopeOwn,
	},
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Roles lists the known roles in sorted order.
func Roles() []Role {
	out := make([]Role, 0, len(rolePermissions))
	for r := range rolePermissions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// DECISIONS
// =============================================================================

// Decision is the outcome of an object-level permission check.
type Decision int

const (
	// Allow permits the operation
	Allow Decision = iota

	// Deny means the caller may see the object but lacks the capability
	Deny

	// Hide means the caller may not see the object at all
	Hide
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "hide"
	}
}

// =============================================================================
// AUTHORIZER
// =============================================================================

// Grant assigns roles (and optionally an API token hash) to a user.
type Grant struct {
	ID        string   `toml:"id" yaml:"id"`
	Roles     []string `toml:"roles" yaml:"roles"`
	TokenHash string   `toml:"token_hash" yaml:"token_hash"`
}

// Authorizer answers permission questions for users.
type Authorizer struct {
	mu sync.RWMutex

	// static grants come from the main config, file grants from the watched
	// grants file; file grants override static ones for the same user
	static      map[string]Grant
	fileGrants  map[string]Grant
	defaultRole Role

	userLimit rate.Limit
	userBurst int

	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithDefaultRole sets the role of users with no explicit grant. An empty
// role leaves such users with no permissions.
func WithDefaultRole(r Role) Option {
	return func(a *Authorizer) {
		a.defaultRole = r
	}
}

// WithCheckLimit limits permission checks per user. A zero limit disables
// limiting.
func WithCheckLimit(perSecond float64, burst int) Option {
	return func(a *Authorizer) {
		a.userLimit = rate.Limit(perSecond)
		a.userBurst = burst
	}
}

// NewAuthorizer builds an authorizer from static grants.
func NewAuthorizer(grants []Grant, opts ...Option) (*Authorizer, error) {
	a := &Authorizer{
		fileGrants: make(map[string]Grant),
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.defaultRole != "" {
		if _, err := ParseRole(string(a.defaultRole)); err != nil {
			return nil, fmt.Errorf("default role: %w", err)
		}
	}
	static, err := indexGrants(grants)
	if err != nil {
		return nil, err
	}
	a.static = static
	return a, nil
}

func indexGrants(grants []Grant) (map[string]Grant, error) {
	out := make(map[string]Grant, len(grants))
	for _, g := range grants {
		if g.ID == "" {
			return nil, fmt.Errorf("grant with empty user id")
		}
		for _, r := range g.Roles {
			if _, err := ParseRole(r); err != nil {
				return nil, fmt.Errorf("user %s: %w", g.ID, err)
			}
		}
		out[g.ID] = g
	}
	return out, nil
}

// SetFileGrants replaces the grants loaded from the grants file.
func (a *Authorizer) SetFileGrants(grants []Grant) error {
	idx, err := indexGrants(grants)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.fileGrants = idx
	a.mu.Unlock()
	return nil
}

// lookup returns the effective grant for a user.
func (a *Authorizer) lookup(userID string) (Grant, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if g, ok := a.fileGrants[userID]; ok {
		return g, true
	}
	g, ok := a.static[userID]
	return g, ok
}

// RolesOf returns the effective roles of a user.
func (a *Authorizer) RolesOf(userID string) []Role {
	if userID == "" {
		return nil
	}
	g, ok := a.lookup(userID)
	if !ok || len(g.Roles) == 0 {
		if a.defaultRole == "" {
			return nil
		}
		return []Role{a.defaultRole}
	}
	roles := make([]Role, 0, len(g.Roles))
	for _, r := range g.Roles {
		roles = append(roles, Role(r))
	}
	return roles
}

// TokenHash returns the bcrypt hash registered for a user.
func (a *Authorizer) TokenHash(userID string) (string, bool) {
	g, ok := a.lookup(userID)
	if !ok || g.TokenHash == "" {
		return "", false
	}
	return g.TokenHash, true
}

// Scope returns the widest scope the user holds for perm.
func (a *Authorizer) Scope(userID string, perm Permission) Scope {
	best := ScopeNone
	for _, r := range a.RolesOf(userID) {
		if s := rolePermissions[r][perm]; s > best {
			best = s
		}
	}
	return best
}

// Decide checks perm on an object owned by owner. A caller that cannot view
// the object gets Hide; one that can view it but lacks perm gets Deny.
// Rate-limited checks are denied.
func (a *Authorizer) Decide(userID string, perm Permission, owner string) Decision {
	_, res, err := perm.Parse()
	if err != nil {
		logger.Logger.Warn().Err(err).Str("user", userID).Msg("malformed permission")
		return Hide
	}

	if !a.Scope(userID, PermissionFor(CapView, res)).Covers(userID, owner) {
		return Hide
	}

	if !a.allow(userID) {
		logger.Logger.Warn().
			Str("event", "rate_limit_exceeded").
			Str("user", userID).
			Str("permission", string(perm)).
			Msg("permission check rate limited")
		return Deny
	}

	if a.Scope(userID, perm).Covers(userID, owner) {
		return Allow
	}
	logger.Logger.Debug().
		Str("event", "permission_denied").
		Str("user", userID).
		Str("permission", string(perm)).
		Msg("caller lacks capability")
	return Deny
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// allow consumes a token from the user's limiter.
func (a *Authorizer) allow(userID string) bool {
	if a.userLimit <= 0 {
		return true
	}

	a.limiterMu.Lock()
	defer a.limiterMu.Unlock()

	lim, ok := a.limiters[userID]
	if !ok {
		burst := a.userBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(a.userLimit, burst)
		a.limiters[userID] = lim
	}
	a.lastAccess[userID] = time.Now()
	return lim.Allow()
}

// CleanupLimiters drops limiters idle for longer than maxIdle.
func (a *Authorizer) CleanupLimiters(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	a.limiterMu.Lock()
	defer a.limiterMu.Unlock()

	removed := 0
	for userID, last := range a.lastAccess {
		if last.Before(cutoff) {
			delete(a.limiters, userID)
			delete(a.lastAccess, userID)
			removed++
		}
	}
	return removed
}
