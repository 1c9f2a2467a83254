package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Role is a named permission bundle. Permissions holds the role's own grants;
// the engine pre-expands inherited grants at load time.
type Role struct {
	Name                 string   `yaml:"-" json:"name"`
	Description          string   `yaml:"description" json:"description"`
	Permissions          []string `yaml:"permissions" json:"permissions"`
	Inherits             []string `yaml:"inherits" json:"inherits"`
	MaxRequestsPerMinute int      `yaml:"max_requests_per_minute" json:"max_requests_per_minute" validate:"gte=0"`
	RequiresServiceKey   bool     `yaml:"requires_service_key" json:"requires_service_key"`
}

// PolicyRateLimit is the optional per-policy sliding-window rule.
type PolicyRateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute" validate:"gt=0"`
	WindowSeconds     int `yaml:"window_seconds" json:"window_seconds" validate:"gte=0"`
}

// RoutePolicy is the authorization contract for a set of path patterns.
// A nil Authentication inherits the document's require_authentication default.
type RoutePolicy struct {
	Name              string              `yaml:"-" json:"name"`
	Paths             []string            `yaml:"paths" json:"paths" validate:"required,min=1,dive,pathpattern"`
	Authentication    *bool               `yaml:"authentication" json:"authentication"`
	Roles             []string            `yaml:"roles" json:"roles"`
	Permissions       []string            `yaml:"permissions" json:"permissions"`
	Methods           map[string][]string `yaml:"methods" json:"methods"`
	RateLimit         *PolicyRateLimit    `yaml:"rate_limit" json:"rate_limit,omitempty"`
	Audit             bool                `yaml:"audit" json:"audit"`
	RequireServiceKey bool                `yaml:"require_service_key" json:"require_service_key"`
}

// RequiresAuthentication resolves the policy's authentication flag against the global default.
func (p *RoutePolicy) RequiresAuthentication(def bool) bool {
	if p.Authentication == nil {
		return def
	}
	return *p.Authentication
}

// SecuritySettings are the document-wide defaults.
type SecuritySettings struct {
	DefaultDeny             bool `yaml:"default_deny" json:"default_deny"`
	RequireAuthentication   bool `yaml:"require_authentication" json:"require_authentication"`
	SessionTimeoutMinutes   int  `yaml:"session_timeout_minutes" json:"session_timeout_minutes" validate:"gte=0"`
	MaxFailedAttempts       int  `yaml:"max_failed_attempts" json:"max_failed_attempts" validate:"gte=0"`
	PublicRequestsPerMinute int  `yaml:"public_requests_per_minute" json:"public_requests_per_minute" validate:"gte=0"`
}

// DefaultSecuritySettings returns the settings applied when the document omits them.
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		DefaultDeny:             true,
		RequireAuthentication:   true,
		SessionTimeoutMinutes:   30,
		MaxFailedAttempts:       5,
		PublicRequestsPerMinute: 10,
	}
}

// RouteTable keeps route policies in document order, which is evaluation order.
type RouteTable []RoutePolicy

// UnmarshalYAML decodes the routes mapping while preserving key order.
func (t *RouteTable) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("routes must be a mapping, got %s", nodeKind(node))
	}
	table := make(RouteTable, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		var policy RoutePolicy
		if err := valueNode.Decode(&policy); err != nil {
			return fmt.Errorf("route %q: %w", keyNode.Value, err)
		}
		policy.Name = keyNode.Value
		table = append(table, policy)
	}
	*t = table
	return nil
}

// PolicyDocument is the parsed policy configuration.
type PolicyDocument struct {
	Security SecuritySettings `yaml:"security"`
	Roles    map[string]*Role `yaml:"roles" validate:"dive"`
	Routes   RouteTable       `yaml:"routes" validate:"dive"`
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "mapping"
	}
}

// DecisionReason enumerates why the engine reached a decision.
type DecisionReason string

const (
	ReasonAllowed            DecisionReason = "allowed"
	ReasonPublic             DecisionReason = "public"
	ReasonNoMatchingPolicy   DecisionReason = "no_matching_policy"
	ReasonUnauthenticated    DecisionReason = "unauthenticated"
	ReasonRoleNotAllowed     DecisionReason = "role_not_allowed"
	ReasonMissingPermissions DecisionReason = "missing_permissions"
	ReasonMethodPermission   DecisionReason = "missing_method_permission"
	ReasonRateLimited        DecisionReason = "policy_rate_limited"
	ReasonMissingServiceKey  DecisionReason = "missing_service_key"
	ReasonEngineError        DecisionReason = "policy_engine_error"
)

// PolicyDecision is the result of one evaluation.
type PolicyDecision struct {
	Allowed             bool             `json:"allowed"`
	Reason              DecisionReason   `json:"reason"`
	Message             string           `json:"message"`
	Policy              string           `json:"policy,omitempty"`
	RequiredRole        string           `json:"required_role,omitempty"`
	RequiredPermissions []string         `json:"required_permissions,omitempty"`
	RateLimit           *PolicyRateLimit `json:"rate_limit,omitempty"`
	Audit               bool             `json:"audit"`
}

// HasHint reports whether the denial names a role or permission the caller lacks.
func (d *PolicyDecision) HasHint() bool {
	return d.RequiredRole != "" || len(d.RequiredPermissions) > 0
}
