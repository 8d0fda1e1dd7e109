// Package policy implements component G: persistence for agent and team
// policies, the rule lists the decision engine (J) concatenates and
// evaluates.
package policy

import (
	"time"

	"github.com/agentguard/agentguard/pkg/condition"
)

// Rule is a single PolicyRule: a pre-normalized action glob, a resource
// glob (nil/empty means "*"), and optional AND-ed condition guards.
type Rule struct {
	Action     string               `json:"action"`
	Resource   string               `json:"resource,omitempty"`
	Conditions condition.Conditions `json:"conditions,omitempty"`
}

// EffectiveResource returns r.Resource, defaulting to "*" when absent.
func (r Rule) EffectiveResource() string {
	if r.Resource == "" {
		return "*"
	}
	return r.Resource
}

// AgentPolicy is the exactly-one-per-agent record; absence is interpreted
// by the decision engine as "deny everything."
type AgentPolicy struct {
	AgentID         string    `json:"agent_id"`
	Allow           []Rule    `json:"allow"`
	Deny            []Rule    `json:"deny"`
	RequireApproval []Rule    `json:"require_approval"`
	SchemaVersion   string    `json:"schema_version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TeamPolicy is the exactly-one-per-team record; absence contributes
// nothing to the effective rule lists.
type TeamPolicy struct {
	Team            string    `json:"team"`
	Allow           []Rule    `json:"allow"`
	Deny            []Rule    `json:"deny"`
	RequireApproval []Rule    `json:"require_approval"`
	SchemaVersion   string    `json:"schema_version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CurrentSchemaVersion is the schema_version the policy PUT handlers and the
// seed bootstrap write, and the highest version ValidateRuleListDocument
// accepts. The stores do not check schema_version on load.
const CurrentSchemaVersion = "1.0.0"
