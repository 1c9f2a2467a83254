// Package policy implements the declarative RBAC policy engine: it loads role and
// route definitions from YAML, resolves role inheritance, matches request paths to
// the first applicable route policy and evaluates the caller against it.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/utils"
)

// ReadDocument reads and parses the policy file at path.
func ReadDocument(path string) (*models.PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ErrInvalidPolicy(fmt.Sprintf("read %s", path)).WithCause(err)
	}
	return ParseDocument(data)
}

// ParseDocument decodes a policy document, fills in the security defaults the
// document omits and validates it.
func ParseDocument(data []byte) (*models.PolicyDocument, error) {
	doc := &models.PolicyDocument{
		Security: models.DefaultSecuritySettings(),
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, errors.ErrInvalidPolicy("malformed policy document").WithCause(err)
	}
	if doc.Security.PublicRequestsPerMinute == 0 {
		doc.Security.PublicRequestsPerMinute = constants.DefaultPublicRequestsPerMinute
	}
	if doc.Roles == nil {
		doc.Roles = make(map[string]*models.Role)
	}
	for name, role := range doc.Roles {
		if role == nil {
			role = &models.Role{}
			doc.Roles[name] = role
		}
		role.Name = name
	}

	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func validateDocument(doc *models.PolicyDocument) error {
	if len(doc.Routes) == 0 {
		return errors.ErrInvalidPolicy("policy document declares no routes")
	}
	if verr := utils.ValidateStruct(doc); verr != nil {
		return errors.ErrInvalidPolicy(verr.Error()).WithCause(verr)
	}

	seen := make(map[string]bool, len(doc.Routes))
	for _, route := range doc.Routes {
		if seen[route.Name] {
			return errors.ErrInvalidPolicy(fmt.Sprintf("route %q declared twice", route.Name))
		}
		seen[route.Name] = true

		for method := range route.Methods {
			if method != strings.ToUpper(method) {
				return errors.ErrInvalidPolicy(fmt.Sprintf("route %q: method %q must be upper case", route.Name, method))
			}
		}
	}
	return nil
}

// UnknownRoleReferences lists "route -> role" and "role -> parent" references to
// roles the document does not define. They are legal but almost always typos.
func UnknownRoleReferences(doc *models.PolicyDocument) []string {
	var unknown []string
	for _, route := range doc.Routes {
		for _, role := range route.Roles {
			if _, ok := doc.Roles[role]; !ok && role != constants.GuestRole {
				unknown = append(unknown, fmt.Sprintf("route %s -> %s", route.Name, role))
			}
		}
	}
	for name, role := range doc.Roles {
		for _, parent := range role.Inherits {
			if _, ok := doc.Roles[parent]; !ok {
				unknown = append(unknown, fmt.Sprintf("role %s -> %s", name, parent))
			}
		}
	}
	return unknown
}

//Personal.AI order the ending
