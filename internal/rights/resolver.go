package rights

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atlas-lms/atlas-lms/internal/platform/httpx"
)

// Resolver expands role patterns against the catalog and unions rights
// across roles. Expanded sets are cached per role name; permission checks
// stay total, degrading unknown roles and patterns to "no rights" rather
// than failing the request.
type Resolver struct {
	repo   CatalogRepository
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(repo CatalogRepository, cache Cache, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// AccessRightsForRole returns the fully expanded, wildcard-free right set for
// one role. Unknown or inactive roles resolve to an empty set, never an error.
func (r *Resolver) AccessRightsForRole(ctx context.Context, name string) ([]string, error) {
	if rights, ok := r.cache.Get(ctx, name); ok {
		return rights, nil
	}
	v, err, _ := r.group.Do(name, func() (any, error) {
		return r.load(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// AccessRightsForRoles returns the deduplicated union of the expanded sets
// for every named role. Adding roles is monotonic: the result can only grow.
func (r *Resolver) AccessRightsForRoles(ctx context.Context, names []string) ([]string, error) {
	union := make(map[string]struct{})
	for _, name := range names {
		rights, err := r.AccessRightsForRole(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, right := range rights {
			union[right] = struct{}{}
		}
	}
	result := make([]string, 0, len(union))
	for right := range union {
		result = append(result, right)
	}
	sort.Strings(result)
	return result, nil
}

// Invalidate drops the cache entry for exactly one role. Called by the role
// write path after a pattern update.
func (r *Resolver) Invalidate(ctx context.Context, name string) {
	r.cache.Invalidate(ctx, name)
}

func (r *Resolver) load(ctx context.Context, name string) ([]string, error) {
	role, err := r.repo.GetRoleByName(ctx, name)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			r.logger.Warn("unknown role resolves to empty right set", slog.String("role", name))
			empty := []string{}
			r.cache.Put(ctx, name, empty, r.ttl)
			return empty, nil
		}
		return nil, err
	}
	if !role.IsActive {
		empty := []string{}
		r.cache.Put(ctx, name, empty, r.ttl)
		return empty, nil
	}

	catalog, err := r.repo.AllRightNames(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, pattern := range role.Patterns {
		expanded := ExpandPattern(pattern, catalog)
		if expanded == nil {
			r.logger.Warn("dropping unknown access-right pattern",
				slog.String("role", name), slog.String("pattern", pattern))
			continue
		}
		for _, right := range expanded {
			set[right] = struct{}{}
		}
	}
	rights := make([]string, 0, len(set))
	for right := range set {
		rights = append(rights, right)
	}
	sort.Strings(rights)
	r.cache.Put(ctx, name, rights, r.ttl)
	return rights, nil
}

// ExpandPattern substitutes a pattern with every catalog right it matches:
// `system:*` covers the whole catalog, `domain:*` a domain, and
// `domain:resource:*` a domain+resource. A literal pattern is validated
// against the catalog and returned as-is. A nil result means the pattern
// matched nothing known; callers drop it with a warning.
func ExpandPattern(pattern string, catalog []string) []string {
	if pattern == "system:*" {
		out := make([]string, len(catalog))
		copy(out, catalog)
		return out
	}
	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		var out []string
		for _, right := range catalog {
			if strings.HasPrefix(right, prefix+":") {
				out = append(out, right)
			}
		}
		return out
	}
	for _, right := range catalog {
		if right == pattern {
			return []string{pattern}
		}
	}
	return nil
}

// HasAccessRight reports whether the granted set covers the required right.
// A granted wildcard satisfies a literal requirement; a wildcard requirement
// is only satisfied by the identical granted pattern, never by coverage.
func HasAccessRight(granted []string, required string) bool {
	for _, g := range granted {
		if matchRight(g, required) {
			return true
		}
	}
	return false
}

// HasAnyAccessRight reports whether at least one required right is covered.
func HasAnyAccessRight(granted, required []string) bool {
	for _, req := range required {
		if HasAccessRight(granted, req) {
			return true
		}
	}
	return false
}

// HasAllAccessRights reports whether every required right is covered.
func HasAllAccessRights(granted, required []string) bool {
	for _, req := range required {
		if !HasAccessRight(granted, req) {
			return false
		}
	}
	return true
}

func matchRight(granted, required string) bool {
	if granted == required {
		return true
	}
	if strings.Contains(required, "*") {
		return false
	}
	if granted == "system:*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(granted, ":*"); ok {
		return strings.HasPrefix(required, prefix+":")
	}
	return false
}
