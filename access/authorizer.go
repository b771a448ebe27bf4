package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
)

// RoleSource resolves role ids to role definitions.
type RoleSource interface {
	Role(ctx context.Context, id string) (*Role, error)
}

// ChainFunc reports the procedure names active in the current call
// chain, innermost first. The invocation engine supplies it; a nil
// func means an empty chain.
type ChainFunc func(ctx context.Context) []string

// Authorizer performs deny-by-default permission checks.
type Authorizer struct {
	roles     RoleSource
	chain     ChainFunc
	anonymous []string
	logger    *zap.Logger
}

// NewAuthorizer creates an authorizer. anonymousRoles are granted to
// every principal including the anonymous one.
func NewAuthorizer(roles RoleSource, chain ChainFunc, anonymousRoles []string, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{roles: roles, chain: chain, anonymous: anonymousRoles, logger: logger}
}

// HasAccess reports whether the subject holds the permission on the
// path. A nil subject is anonymous. Deny by default: access is granted
// iff at least one satisfied candidate grant exists.
func (a *Authorizer) HasAccess(ctx context.Context, subject Subject, p vpath.Path, permission string) bool {
	for _, g := range a.candidates(ctx, subject, p, permission) {
		if g.Via == "" {
			return true
		}
		if a.chainContains(ctx, g.Via) {
			return true
		}
	}
	return false
}

// HasAccessVia reports whether the subject would hold the permission if
// the invocation arrived through the named procedure, regardless of the
// actual call chain. An empty via degenerates to HasAccess.
func (a *Authorizer) HasAccessVia(ctx context.Context, subject Subject, p vpath.Path, permission, via string) bool {
	if via == "" {
		return a.HasAccess(ctx, subject, p, permission)
	}
	for _, g := range a.candidates(ctx, subject, p, permission) {
		if g.Via == "" || strings.EqualFold(g.Via, via) {
			return true
		}
	}
	return false
}

// candidates collects matching grants, most specific pattern first.
// Ordering affects which grant decides, never the boolean outcome.
func (a *Authorizer) candidates(ctx context.Context, subject Subject, p vpath.Path, permission string) []Grant {
	permission = strings.ToLower(permission)

	roleIDs := append([]string{}, a.anonymous...)
	if subject != nil {
		roleIDs = append(roleIDs, subject.RoleIDs()...)
	}

	type candidate struct {
		grant Grant
		score int
	}
	var found []candidate

	seen := map[string]bool{}
	for _, id := range roleIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		role, err := a.roles.Role(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrRoleNotFound) {
				a.logger.Warn("Failed to load role", zap.String("role", id), zap.Error(err))
			}
			continue
		}
		for _, g := range role.Grants {
			if !strings.EqualFold(g.Permission, permission) {
				continue
			}
			if !matchPattern(g.Pattern, p) {
				continue
			}
			found = append(found, candidate{grant: g, score: specificity(g.Pattern)})
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].score > found[j].score })

	grants := make([]Grant, len(found))
	for i, c := range found {
		grants[i] = c.grant
	}
	return grants
}

// Require raises ErrAccessDenied when HasAccess is false.
func (a *Authorizer) Require(ctx context.Context, subject Subject, p vpath.Path, permission string) error {
	if a.HasAccess(ctx, subject, p, permission) {
		return nil
	}
	who := "anonymous"
	if subject != nil {
		who = subject.SubjectID()
	}
	a.logger.Debug("Access denied",
		zap.String("subject", who),
		zap.String("path", p.String()),
		zap.String("permission", permission))
	return fmt.Errorf("%w: %s on %s", ErrAccessDenied, permission, p)
}

// Filter adapts the authorizer into a storage query access filter that
// silently omits inaccessible items.
func (a *Authorizer) Filter(subject Subject, permission string) storage.AccessFilter {
	return func(ctx context.Context, md *storage.Metadata) bool {
		return a.HasAccess(ctx, subject, md.Path, permission)
	}
}

func (a *Authorizer) chainContains(ctx context.Context, procedure string) bool {
	if a.chain == nil {
		return false
	}
	for _, name := range a.chain(ctx) {
		if strings.EqualFold(name, procedure) {
			return true
		}
	}
	return false
}

// StoreRoleSource reads role definitions from the reserved /roles/
// namespace of the virtual store.
type StoreRoleSource struct {
	store *storage.Store
}

// NewStoreRoleSource creates a role source over the store.
func NewStoreRoleSource(store *storage.Store) *StoreRoleSource {
	return &StoreRoleSource{store: store}
}

// RolePath returns the storage path of a role definition.
func RolePath(id string) vpath.Path {
	return vpath.MustParse("/roles/").Child(id)
}

// Role loads a role by id.
func (s *StoreRoleSource) Role(ctx context.Context, id string) (*Role, error) {
	obj, err := s.store.Load(ctx, RolePath(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	dict, err := obj.PersistDict()
	if err != nil {
		return nil, err
	}
	role := &Role{}
	if err := role.FromDict(dict); err != nil {
		return nil, err
	}
	return role, nil
}

// Save persists a role definition.
func (s *StoreRoleSource) Save(ctx context.Context, role *Role) error {
	if role.ID == "" {
		return fmt.Errorf("%w: role has no id", storage.ErrInvalidArgument)
	}
	return s.store.Put(ctx, RolePath(role.ID), storage.NewTyped(role), storage.PutOptions{})
}

// Delete removes a stored role. Role ids already assigned to users are
// unaffected; they simply stop resolving.
func (s *StoreRoleSource) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.Remove(ctx, RolePath(id))
}
