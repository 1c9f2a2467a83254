package policy

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/utils"
)

// DefaultMatchCacheSize bounds the path → policy cache of one loaded document.
const DefaultMatchCacheSize = 4096

// noMatch is cached for paths no policy covers.
const noMatch = -1

type compiledRoute struct {
	policy   models.RoutePolicy
	patterns []*regexp.Regexp
}

// matcher resolves a path to the first route, in document order, with a
// matching pattern. Results are memoised per path.
type matcher struct {
	routes []compiledRoute
	cache  *lru.Cache[string, int]
}

func newMatcher(routes models.RouteTable, cacheSize int) (*matcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultMatchCacheSize
	}
	cache, err := lru.New[string, int](cacheSize)
	if err != nil {
		return nil, errors.ErrInternal("policy match cache").WithCause(err)
	}

	m := &matcher{
		routes: make([]compiledRoute, 0, len(routes)),
		cache:  cache,
	}
	for _, route := range routes {
		cr := compiledRoute{policy: route}
		for _, pattern := range route.Paths {
			re, err := utils.CompilePathPattern(pattern)
			if err != nil {
				return nil, errors.ErrInvalidPolicy(fmt.Sprintf("route %q: invalid path %q", route.Name, pattern)).WithCause(err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		m.routes = append(m.routes, cr)
	}
	return m, nil
}

// match returns the first route matching path.
func (m *matcher) match(path string) (*models.RoutePolicy, bool) {
	idx, ok := m.cache.Get(path)
	if !ok {
		idx = m.scan(path)
		m.cache.Add(path, idx)
	}
	if idx == noMatch {
		return nil, false
	}
	return &m.routes[idx].policy, true
}

func (m *matcher) scan(path string) int {
	for i := range m.routes {
		for _, re := range m.routes[i].patterns {
			if re.MatchString(path) {
				return i
			}
		}
	}
	return noMatch
}

//Personal.AI order the ending
