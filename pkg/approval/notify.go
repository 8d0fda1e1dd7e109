package approval

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentguard/agentguard/pkg/util/resiliency"
)

// Event names carried in the webhook payload's "event" field.
const (
	EventCreated  = "approval.created"
	EventApproved = "approval.approved"
	EventDenied   = "approval.denied"
)

// WebhookPayload is the outbound notification body described in §6.
type WebhookPayload struct {
	Event          string          `json:"event"`
	Timestamp      time.Time       `json:"timestamp"`
	ApprovalID     string          `json:"approval_id"`
	AgentID        string          `json:"agent_id"`
	AgentName      string          `json:"agent_name"`
	Action         string          `json:"action"`
	Resource       string          `json:"resource"`
	Context        json.RawMessage `json:"context,omitempty"`
	DecisionReason string          `json:"decision_reason,omitempty"`
	DecidedBy      string          `json:"decided_by,omitempty"`
}

// Notifier dispatches webhook notifications asynchronously; dispatch
// failures are logged and never surfaced to the caller, per §4.H and the
// concurrency model's "notification dispatch is off the request path"
// guarantee.
type Notifier struct {
	url    string
	secret string
	client *resiliency.EnhancedClient
}

func NewNotifier(url, secret string) *Notifier {
	return &Notifier{url: url, secret: secret, client: resiliency.NewEnhancedClient()}
}

// Dispatch fires the webhook in a background goroutine. A zero-value URL
// disables delivery entirely (no webhook configured).
func (n *Notifier) Dispatch(payload WebhookPayload) {
	if n == nil || n.url == "" {
		return
	}
	go n.send(payload)
}

func (n *Notifier) send(payload WebhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("approval: failed to marshal webhook payload", "error", err, "approval_id", payload.ApprovalID)
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		slog.Error("approval: failed to build webhook request", "error", err, "approval_id", payload.ApprovalID)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("x-agentguard-signature", "sha256="+signHMAC(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("approval: webhook dispatch failed", "error", err, "approval_id", payload.ApprovalID, "event", payload.Event)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("approval: webhook endpoint returned non-2xx", "status", resp.StatusCode, "approval_id", payload.ApprovalID)
	}
}

func signHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
