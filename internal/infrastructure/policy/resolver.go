package policy

import (
	"context"
	"sort"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/logger"
)

// resolvePermissions returns role's own permissions unioned with everything it
// inherits, sorted. The traversal is depth-first with a visited set local to
// this call; a cycle is logged and the repeated branch contributes nothing.
func resolvePermissions(roles map[string]*models.Role, role string, log logger.Logger) []string {
	granted := make(map[string]struct{})
	visited := make(map[string]bool)
	onPath := make(map[string]bool)

	var walk func(name string)
	walk = func(name string) {
		if onPath[name] {
			log.Warn(context.Background(), "Cyclic role inheritance ignored",
				logger.String("role", role),
				logger.String("cycle_at", name),
			)
			return
		}
		if visited[name] {
			return
		}
		visited[name] = true

		def, ok := roles[name]
		if !ok {
			if name != role {
				log.Warn(context.Background(), "Role inherits an undefined role",
					logger.String("role", role),
					logger.String("missing", name),
				)
			}
			return
		}

		onPath[name] = true
		for _, p := range def.Permissions {
			granted[p] = struct{}{}
		}
		for _, parent := range def.Inherits {
			walk(parent)
		}
		onPath[name] = false
	}
	walk(role)

	perms := make([]string, 0, len(granted))
	for p := range granted {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

// resolveAll expands every role in roles.
func resolveAll(roles map[string]*models.Role, log logger.Logger) map[string][]string {
	effective := make(map[string][]string, len(roles))
	for name := range roles {
		effective[name] = resolvePermissions(roles, name, log)
	}
	return effective
}

//Personal.AI order the ending
