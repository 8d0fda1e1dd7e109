package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the component-H application facade the decision engine (J) and
// the HTTP handlers depend on: it owns id generation and wires decisions
// to outbound notification.
type Queue struct {
	Store    Store
	Notifier *Notifier
}

func NewQueue(store Store, notifier *Notifier) *Queue {
	return &Queue{Store: store, Notifier: notifier}
}

// Open creates a new pending ApprovalRequest and fires the
// "approval.created" notification. Returns the new pending Request.
func (q *Queue) Open(ctx context.Context, agentID, agentName, action, resource string, runtimeCtx []byte) (*Request, error) {
	r := &Request{
		ApprovalID: "ap_" + uuid.NewString(),
		AgentID:    agentID,
		Action:     action,
		Resource:   resource,
		Context:    runtimeCtx,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := q.Store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("approval: open: %w", err)
	}

	q.Notifier.Dispatch(WebhookPayload{
		Event:      EventCreated,
		Timestamp:  r.CreatedAt,
		ApprovalID: r.ApprovalID,
		AgentID:    agentID,
		AgentName:  agentName,
		Action:     action,
		Resource:   resource,
		Context:    r.Context,
	})
	return r, nil
}

// Decide transitions a pending approval to approved/denied and fires the
// matching decision notification. reason is required for a denial.
func (q *Queue) Decide(ctx context.Context, approvalID string, approve bool, decidedBy, reason string) (*Request, error) {
	if !approve && reason == "" {
		return nil, fmt.Errorf("approval: decision_reason is required when denying")
	}
	status := StatusApproved
	event := EventApproved
	if !approve {
		status = StatusDenied
		event = EventDenied
	}

	r, err := q.Store.Decide(ctx, approvalID, status, decidedBy, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	q.Notifier.Dispatch(WebhookPayload{
		Event:          event,
		Timestamp:      *r.DecidedAt,
		ApprovalID:     r.ApprovalID,
		AgentID:        r.AgentID,
		Action:         r.Action,
		Resource:       r.Resource,
		DecisionReason: r.DecisionReason,
		DecidedBy:      r.DecidedBy,
	})
	return r, nil
}

func (q *Queue) Get(ctx context.Context, approvalID string) (*Request, error) {
	return q.Store.Get(ctx, approvalID)
}

func (q *Queue) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	return q.Store.List(ctx, filter)
}
