// Package engine implements component J, the Decision Engine: it
// orchestrates the normalizer (A), condition evaluator (B), policy store
// (G), and approval queue (H) to produce a verdict, and writes the audit
// log (I) before returning, per §4.J.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentguard/agentguard/pkg/agent"
	"github.com/agentguard/agentguard/pkg/approval"
	"github.com/agentguard/agentguard/pkg/condition"
	"github.com/agentguard/agentguard/pkg/normalize"
	"github.com/agentguard/agentguard/pkg/policy"
	"github.com/agentguard/agentguard/pkg/store"
	"github.com/agentguard/agentguard/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrPolicyUnavailable = errors.New("engine: policy store unavailable")
	ErrAuditUnavailable  = errors.New("engine: audit store unavailable")
	ErrAgentUnavailable  = errors.New("engine: agent store unavailable")
)

// VerdictKind is the three-way outcome of a Decide call.
type VerdictKind string

const (
	VerdictAllow   VerdictKind = "allow"
	VerdictDeny    VerdictKind = "deny"
	VerdictPending VerdictKind = "pending"
)

// Verdict is Decide's return contract: Allow(reason), Deny(reason), or
// Pending(approval_id).
type Verdict struct {
	Kind       VerdictKind
	Reason     string
	ApprovalID string
}

// Request is the caller-supplied input to Decide.
type Request struct {
	AgentID   string
	Action    string // raw, pre-normalization
	Resource  string
	Context   json.RawMessage
	RequestID string
}

// Engine wires components A/B/G/H/I behind the single Decide contract.
// Clock defaults to condition.RealClock{} when nil.
type Engine struct {
	Agents    agent.Store
	Policies  policy.Store
	Approvals *approval.Queue
	Audit     store.Store
	Clock     condition.Clock
}

func New(agents agent.Store, policies policy.Store, approvals *approval.Queue, audit store.Store) *Engine {
	return &Engine{Agents: agents, Policies: policies, Approvals: approvals, Audit: audit, Clock: condition.RealClock{}}
}

func (e *Engine) clock() condition.Clock {
	if e.Clock == nil {
		return condition.RealClock{}
	}
	return e.Clock
}

// Decide implements the algorithm in §4.J: step 1 (agent+policy lookup),
// step 2 (effective rule-list concatenation), step 3 (normalize+runtime_ctx),
// steps 4-7 (deny precedence, approval precedence, allow, default deny),
// then writes exactly one AuditEntry before returning.
func (e *Engine) Decide(ctx context.Context, req Request) (Verdict, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Decide")
	defer span.End()
	span.SetAttributes(attribute.String("agentguard.agent_id", req.AgentID), attribute.String("agentguard.action", req.Action))

	normalizedAction := normalize.Action(req.Action)

	a, agentErr := e.Agents.GetAgent(ctx, req.AgentID)
	if agentErr != nil && !errors.Is(agentErr, agent.ErrNotFound) {
		return e.failClosed(ctx, req, normalizedAction, "agent lookup unavailable", ErrAgentUnavailable)
	}

	agentPolicy, err := e.Policies.GetAgentPolicy(ctx, req.AgentID)
	if err != nil && !errors.Is(err, policy.ErrNotFound) {
		return e.failClosed(ctx, req, normalizedAction, "policy unavailable", fmt.Errorf("%w: %v", ErrPolicyUnavailable, err))
	}
	if agentPolicy == nil {
		agentPolicy = &policy.AgentPolicy{AgentID: req.AgentID}
	}

	var teamPolicy *policy.TeamPolicy
	if a != nil && a.OwnerTeam != "" {
		teamPolicy, err = e.Policies.GetTeamPolicy(ctx, a.OwnerTeam)
		if err != nil && !errors.Is(err, policy.ErrNotFound) {
			return e.failClosed(ctx, req, normalizedAction, "policy unavailable", fmt.Errorf("%w: %v", ErrPolicyUnavailable, err))
		}
	}
	if teamPolicy == nil {
		teamPolicy = &policy.TeamPolicy{}
	}

	effectiveDeny := append(append([]policy.Rule{}, teamPolicy.Deny...), agentPolicy.Deny...)
	effectiveApproval := append(append([]policy.Rule{}, teamPolicy.RequireApproval...), agentPolicy.RequireApproval...)
	effectiveAllow := append(append([]policy.Rule{}, teamPolicy.Allow...), agentPolicy.Allow...)

	env := ""
	if a != nil {
		env = string(a.Environment)
	}
	now := e.clock().Now().UTC()
	runtimeCtx := buildRuntimeCtx(env, now, req.Context)

	verdict, matchedIdx, matchedList := e.decideVerdict(effectiveDeny, effectiveApproval, effectiveAllow, normalizedAction, req.Resource, env, runtimeCtx)

	if verdict.Kind == VerdictPending {
		var agentName string
		if a != nil {
			agentName = a.DisplayName
		}
		ar, err := e.Approvals.Open(ctx, req.AgentID, agentName, normalizedAction, req.Resource, req.Context)
		if err != nil {
			return e.failClosed(ctx, req, normalizedAction, "approval queue unavailable", fmt.Errorf("engine: open approval: %w", err))
		}
		verdict.ApprovalID = ar.ApprovalID
	}

	if err := e.writeAudit(ctx, req, normalizedAction, verdict, matchedList, matchedIdx); err != nil {
		slog.Error("engine: audit write failed, failing closed", "error", err, "agent_id", req.AgentID)
		return Verdict{Kind: VerdictDeny, Reason: "audit unavailable"}, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	span.SetAttributes(attribute.String("agentguard.verdict", string(verdict.Kind)))
	return verdict, nil
}

// decideVerdict applies steps 4-7: deny precedence, approval precedence,
// allow, default deny — first match by position within each concatenated
// list. matchedList/matchedIdx identify the matched rule for the audit
// entry's metadata.
func (e *Engine) decideVerdict(deny, approval_, allow []policy.Rule, action, resource, env string, runtimeCtx map[string]any) (Verdict, int, string) {
	if idx, ok := e.firstMatch(deny, action, resource, env, runtimeCtx); ok {
		return Verdict{Kind: VerdictDeny, Reason: fmt.Sprintf("matched deny rule at position %d", idx)}, idx, "deny"
	}
	if idx, ok := e.firstMatch(approval_, action, resource, env, runtimeCtx); ok {
		return Verdict{Kind: VerdictPending, Reason: fmt.Sprintf("matched require_approval rule at position %d", idx)}, idx, "require_approval"
	}
	if idx, ok := e.firstMatch(allow, action, resource, env, runtimeCtx); ok {
		return Verdict{Kind: VerdictAllow, Reason: fmt.Sprintf("matched allow rule at position %d", idx)}, idx, "allow"
	}
	return Verdict{Kind: VerdictDeny, Reason: "no matching rule"}, -1, ""
}

func (e *Engine) firstMatch(rules []policy.Rule, action, resource, env string, runtimeCtx map[string]any) (int, bool) {
	for i, rule := range rules {
		if !normalize.MatchAction(rule.Action, action) {
			continue
		}
		if !normalize.MatchResource(rule.EffectiveResource(), resource) {
			continue
		}
		ok, err := condition.EvaluateWithContext(rule.Conditions, env, e.clock(), runtimeCtx)
		if err != nil {
			slog.Warn("engine: condition expr evaluation failed, treating guard as unmet", "error", err)
			continue
		}
		if ok {
			return i, true
		}
	}
	return 0, false
}

func buildRuntimeCtx(env string, now time.Time, rawContext json.RawMessage) map[string]any {
	ctx := map[string]any{
		"env":     env,
		"utc_now": now.Format(time.RFC3339),
		"weekday": now.Weekday().String(),
	}
	if len(rawContext) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(rawContext, &fields); err == nil {
			for k, v := range fields {
				ctx[k] = v
			}
		}
	}
	return ctx
}

func (e *Engine) writeAudit(ctx context.Context, req Request, normalizedAction string, v Verdict, matchedList string, matchedIdx int) error {
	metadata := map[string]string{}
	if matchedIdx >= 0 {
		metadata["matched_rule"] = fmt.Sprintf("%s[%d]", matchedList, matchedIdx)
	}
	if v.ApprovalID != "" {
		metadata["approval_id"] = v.ApprovalID
	}

	result := store.ResultDenied
	switch v.Kind {
	case VerdictAllow:
		result = store.ResultSuccess
	case VerdictPending:
		result = store.ResultPending
	}

	_, err := e.Audit.Append(ctx, store.AppendInput{
		AgentID:   req.AgentID,
		Action:    normalizedAction,
		Resource:  req.Resource,
		Context:   req.Context,
		Allowed:   v.Kind == VerdictAllow,
		Result:    result,
		Metadata:  metadata,
		RequestID: req.RequestID,
	})
	return err
}

// failClosed is the §4.J fail-closed path: policy/agent/approval-store
// unavailability never yields an allow, and the failure itself is still
// recorded as a result=error AuditEntry, best-effort.
func (e *Engine) failClosed(ctx context.Context, req Request, normalizedAction, reason string, cause error) (Verdict, error) {
	v := Verdict{Kind: VerdictDeny, Reason: reason}
	if _, auditErr := e.Audit.Append(ctx, store.AppendInput{
		AgentID:   req.AgentID,
		Action:    normalizedAction,
		Resource:  req.Resource,
		Context:   req.Context,
		Allowed:   false,
		Result:    store.ResultError,
		RequestID: req.RequestID,
	}); auditErr != nil {
		slog.Error("engine: audit write failed during fail-closed path", "error", auditErr, "agent_id", req.AgentID)
	}
	return v, cause
}
