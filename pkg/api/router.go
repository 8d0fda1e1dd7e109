// Router wires components D (token signer), E (revocation), F (rate
// limiter), G (policy store), H (approval queue), I (audit log), J
// (decision engine), and K (auth gate) behind the HTTP surface in §6.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agentguard/agentguard/pkg/agent"
	"github.com/agentguard/agentguard/pkg/approval"
	"github.com/agentguard/agentguard/pkg/audit"
	"github.com/agentguard/agentguard/pkg/auth"
	"github.com/agentguard/agentguard/pkg/engine"
	"github.com/agentguard/agentguard/pkg/identity"
	"github.com/agentguard/agentguard/pkg/metrics"
	"github.com/agentguard/agentguard/pkg/policy"
	"github.com/agentguard/agentguard/pkg/ratelimit"
	"github.com/agentguard/agentguard/pkg/revocation"
	"github.com/agentguard/agentguard/pkg/store"
	"github.com/agentguard/agentguard/pkg/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Server is the application-context record the router closes over;
// constructed once at startup in cmd/agentguard and never mutated.
type Server struct {
	Gate             *auth.Gate
	Agents           agent.Store
	Policies         policy.Store
	Approvals        *approval.Queue
	Audit            store.Store
	Engine           *engine.Engine
	Tokens           *identity.TokenManager
	KeySet           identity.KeySet
	Revocations      revocation.Set
	RateLimiter      ratelimit.Store
	RateLimitEnabled bool
	Exporter         *audit.Exporter
	Metrics          *metrics.Recorder
	Idempotency      IdempotencyStorer

	AgentTokenTTL time.Duration
	AdminTokenTTL time.Duration
}

// idempotent wraps h with IdempotencyMiddleware when the server carries an
// IdempotencyStorer, satisfying the client-supplied Idempotency-Key replay
// contract for the mutating endpoints that ask for it. Nil Idempotency
// leaves h untouched: a deployment can opt out by not setting it.
func (s *Server) idempotent(h http.Handler) http.Handler {
	if s.Idempotency == nil {
		return h
	}
	return IdempotencyMiddleware(s.Idempotency)(h)
}

// NewRouter builds the full HTTP surface from §6, applying CORS, request
// ID, auth-gate, and rate-limit middleware per route.
func NewRouter(s *Server, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /token", s.route("token", ratelimit.BucketPublic, nil, s.handleIssueToken))
	mux.Handle("POST /token/revoke", s.route("token.revoke", ratelimit.BucketPublic, auth.RequireAgentOrAdmin, s.handleRevokeToken))
	mux.Handle("GET /.well-known/jwks.json", s.route("jwks", ratelimit.BucketPublic, nil, s.handleJWKS))

	mux.Handle("POST /agents", s.idempotent(s.route("agents.create", ratelimit.BucketAdminWrite, auth.RequireAdmin(identity.RoleAdmin), s.handleCreateAgent)))
	mux.Handle("GET /agents", s.route("agents.list", ratelimit.BucketAdminRead, auth.RequireAdmin(identity.RoleAuditor), s.handleListAgents))
	mux.Handle("DELETE /agents/{id}", s.route("agents.deactivate", ratelimit.BucketAdminWrite, auth.RequireAdmin(identity.RoleAdmin), s.handleDeactivateAgent))

	mux.Handle("GET /agents/{id}/policy", s.route("agents.policy.get", ratelimit.BucketAdminRead, auth.RequireAdmin(identity.RoleAuditor), s.handleGetAgentPolicy))
	mux.Handle("PUT /agents/{id}/policy", s.route("agents.policy.put", ratelimit.BucketAdminWrite, auth.RequireAdmin(identity.RoleAdmin), s.handlePutAgentPolicy))

	mux.Handle("GET /teams/{team}/policy", s.route("teams.policy.get", ratelimit.BucketAdminRead, auth.RequireAdmin(identity.RoleAuditor), s.handleGetTeamPolicy))
	mux.Handle("PUT /teams/{team}/policy", s.route("teams.policy.put", ratelimit.BucketAdminWrite, auth.RequireAdmin(identity.RoleAdmin), s.handlePutTeamPolicy))

	mux.Handle("POST /enforce", s.idempotent(s.route("enforce", ratelimit.BucketEnforce, auth.RequireAgent, s.handleEnforce)))

	mux.Handle("POST /logs", s.route("logs.submit", ratelimit.BucketLogs, auth.RequireAgent, s.handleSubmitLog))
	mux.Handle("GET /logs", s.route("logs.query", ratelimit.BucketLogs, auth.RequireAgentOrAdmin, s.handleQueryLogs))
	mux.Handle("GET /logs/verify", s.route("logs.verify", ratelimit.BucketAdminRead, auth.RequireAdmin(identity.RoleAuditor), s.handleVerifyLogs))
	mux.Handle("GET /logs/export", s.route("logs.export", ratelimit.BucketAdminRead, auth.RequireAdmin(identity.RoleAuditor), s.handleExportLogs))

	mux.Handle("GET /approvals", s.route("approvals.list", ratelimit.BucketAdminRead, auth.RequireAdmin(identity.RoleAuditor), s.handleListApprovals))
	mux.Handle("GET /approvals/{id}", s.route("approvals.get", ratelimit.BucketAdminRead, auth.RequireAgentOrAdmin, s.handleGetApproval))
	mux.Handle("POST /approvals/{id}/approve", s.idempotent(s.route("approvals.approve", ratelimit.BucketAdminWrite, auth.RequireAdmin(identity.RoleApprover), s.handleApproveApproval)))
	mux.Handle("POST /approvals/{id}/deny", s.idempotent(s.route("approvals.deny", ratelimit.BucketAdminWrite, auth.RequireAdmin(identity.RoleApprover), s.handleDenyApproval)))

	mux.Handle("GET /health", s.route("health", "", nil, s.handleHealth))
	mux.Handle("GET /health/ready", s.route("health.ready", "", nil, s.handleReady))
	mux.Handle("GET /health/live", s.route("health.live", "", nil, s.handleHealth))
	mux.Handle("GET /metrics", s.route("metrics", "", nil, s.Metrics.Handler()))

	var handler http.Handler = mux
	handler = s.Gate.Middleware(handler)
	handler = auth.CORSMiddleware(corsOrigins)(handler)
	handler = auth.RequestIDMiddleware(handler)
	return handler
}

// route composes, in order, the rate-limit admission check, the
// authorization-class middleware, and the handler, and times the result
// for the metrics recorder. A nil authMW means the route is public
// (health, jwks, token issuance).
func (s *Server) route(label string, bucket ratelimit.Bucket, authMW func(http.Handler) http.Handler, h http.HandlerFunc) http.Handler {
	var handler http.Handler = h
	if authMW != nil {
		handler = authMW(handler)
	}
	if bucket != "" {
		handler = s.rateLimitMiddleware(bucket, handler)
	}
	return s.timed(label, handler)
}

func (s *Server) timed(label string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), label)
		defer span.End()
		r = r.WithContext(ctx)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if s.Metrics != nil {
			s.Metrics.ObserveRequest(r.Context(), label, rec.status, time.Since(start))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) rateLimitMiddleware(bucket ratelimit.Bucket, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.RateLimitEnabled {
			next.ServeHTTP(w, r)
			return
		}
		key := identityKey(r)
		result, err := ratelimit.Admit(r.Context(), s.RateLimiter, key, bucket)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		if !result.Allowed {
			if s.Metrics != nil {
				s.Metrics.ObserveRateLimited(r.Context(), string(bucket))
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			WriteErrorR(w, r, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identityKey derives the rate limiter's partition key: the authenticated
// subject if one resolved, else the caller's remote address.
func identityKey(r *http.Request) string {
	if p, err := auth.GetPrincipal(r.Context()); err == nil && p.Kind() != identity.KindPublic {
		return string(p.Kind()) + ":" + p.SubjectID()
	}
	return "addr:" + r.RemoteAddr
}

// ---- /token ----

type tokenRequest struct {
	AgentKey string `json:"agent_key"`
	AdminKey string `json:"admin_key"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "malformed JSON body")
		return
	}

	ctx := r.Context()
	switch {
	case req.AgentKey != "":
		verifier := &agent.KeyVerifier{Store: s.Agents}
		agentID, team, env, ok, err := verifier.VerifyAgentKey(ctx, req.AgentKey)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		if !ok {
			WriteUnauthorized(w, "")
			return
		}
		tok, err := s.Tokens.IssueAgentToken(agentID, env, team, uuid.NewString(), s.AgentTokenTTL)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok, TokenType: "bearer", ExpiresIn: int(s.AgentTokenTTL.Seconds())})

	case req.AdminKey != "":
		verifier := &agent.KeyVerifier{Store: s.Agents}
		adminID, team, role, ok, err := s.verifyAdmin(ctx, verifier, req.AdminKey)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		if !ok {
			WriteUnauthorized(w, "")
			return
		}
		tok, err := s.Tokens.IssueAdminToken(adminID, team, role, uuid.NewString(), s.AdminTokenTTL)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok, TokenType: "bearer", ExpiresIn: int(s.AdminTokenTTL.Seconds())})

	default:
		WriteBadRequest(w, "one of agent_key or admin_key is required")
	}
}

// verifyAdmin resolves an admin key via the super-admin shared secret
// first (mirroring the gate's precedence), then the agent-store-backed
// admin registry.
func (s *Server) verifyAdmin(ctx context.Context, verifier *agent.KeyVerifier, rawKey string) (adminID, team string, role identity.AdminRole, ok bool, err error) {
	if s.Gate.SuperAdminKey != "" && subtle.ConstantTimeCompare([]byte(rawKey), []byte(s.Gate.SuperAdminKey)) == 1 {
		return "super-admin", "*", identity.RoleSuperAdmin, true, nil
	}
	return verifier.VerifyAdminKey(ctx, rawKey)
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	tok := bearerTokenFromRequest(r)
	if tok == "" {
		WriteBadRequest(w, "revocation requires the bearer token being revoked")
		return
	}
	claims, err := s.Tokens.ParseAndVerify(tok)
	if err != nil {
		WriteUnauthorized(w, "invalid or expired token")
		return
	}
	if s.Revocations != nil {
		if err := s.Revocations.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			WriteInternal(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func bearerTokenFromRequest(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.KeySet.JWKS())
}

// ---- /agents ----

type createAgentRequest struct {
	DisplayName string `json:"display_name"`
	OwnerTeam   string `json:"owner_team"`
	Environment string `json:"environment"`
}

type agentResponse struct {
	AgentID     string    `json:"agent_id"`
	DisplayName string    `json:"display_name"`
	OwnerTeam   string    `json:"owner_team"`
	Environment string    `json:"environment"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	APIKey      string    `json:"api_key,omitempty"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "malformed JSON body")
		return
	}
	if req.DisplayName == "" || req.OwnerTeam == "" {
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "display_name and owner_team are required")
		return
	}
	env := agent.Environment(req.Environment)
	switch env {
	case agent.EnvDev, agent.EnvStaging, agent.EnvProd:
	default:
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "environment must be dev, staging, or prod")
		return
	}

	ctx := r.Context()
	a := &agent.Agent{
		AgentID:     "agt_" + uuid.NewString(),
		DisplayName: req.DisplayName,
		OwnerTeam:   req.OwnerTeam,
		Environment: env,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.Agents.CreateAgent(ctx, a); err != nil {
		WriteInternal(w, err)
		return
	}
	raw, hash, prefix, err := agent.GenerateSecret()
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if err := s.Agents.SetCredential(ctx, a.AgentID, hash, prefix); err != nil {
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, agentResponse{
		AgentID: a.AgentID, DisplayName: a.DisplayName, OwnerTeam: a.OwnerTeam,
		Environment: string(a.Environment), IsActive: a.IsActive, CreatedAt: a.CreatedAt,
		APIKey: raw,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	team := r.URL.Query().Get("team")
	agents, err := s.Agents.ListAgents(r.Context(), team)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse{
			AgentID: a.AgentID, DisplayName: a.DisplayName, OwnerTeam: a.OwnerTeam,
			Environment: string(a.Environment), IsActive: a.IsActive, CreatedAt: a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Agents.DeactivateAgent(r.Context(), id); err != nil {
		if err == agent.ErrNotFound {
			WriteNotFound(w, "not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- agent/team policy ----

type policyRequest struct {
	Allow           []policy.Rule `json:"allow"`
	Deny            []policy.Rule `json:"deny"`
	RequireApproval []policy.Rule `json:"require_approval"`
}

func (s *Server) handleGetAgentPolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.Policies.GetAgentPolicy(r.Context(), id)
	if err != nil {
		if err == policy.ErrNotFound {
			WriteNotFound(w, "not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutAgentPolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "malformed JSON body")
		return
	}
	now := time.Now().UTC()
	p := &policy.AgentPolicy{
		AgentID: id, Allow: req.Allow, Deny: req.Deny, RequireApproval: req.RequireApproval,
		SchemaVersion: policy.CurrentSchemaVersion, UpdatedAt: now,
	}
	if err := s.Policies.PutAgentPolicy(r.Context(), p); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetTeamPolicy(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	p, err := s.Policies.GetTeamPolicy(r.Context(), team)
	if err != nil {
		if err == policy.ErrNotFound {
			WriteNotFound(w, "not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutTeamPolicy(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "malformed JSON body")
		return
	}
	now := time.Now().UTC()
	p := &policy.TeamPolicy{
		Team: team, Allow: req.Allow, Deny: req.Deny, RequireApproval: req.RequireApproval,
		SchemaVersion: policy.CurrentSchemaVersion, UpdatedAt: now,
	}
	if err := s.Policies.PutTeamPolicy(r.Context(), p); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ---- /enforce ----

type enforceRequest struct {
	Action   string          `json:"action"`
	Resource string          `json:"resource"`
	Context  json.RawMessage `json:"context,omitempty"`
}

type enforceResponse struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	Status     string `json:"status,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`
}

func (s *Server) handleEnforce(w http.ResponseWriter, r *http.Request) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	var req enforceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "malformed JSON body")
		return
	}
	if req.Action == "" {
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "action is required")
		return
	}

	v, err := s.Engine.Decide(r.Context(), engine.Request{
		AgentID:   p.SubjectID(),
		Action:    req.Action,
		Resource:  req.Resource,
		Context:   req.Context,
		RequestID: auth.GetRequestID(r.Context()),
	})
	if s.Metrics != nil {
		s.Metrics.ObserveVerdict(r.Context(), string(v.Kind))
	}
	if err != nil {
		// Decide always returns a usable Verdict even on error (fail
		// closed); the response still reflects it, but with 503 per §7's
		// "policy/audit store unavailable" mapping.
		writeJSONStatus(w, http.StatusServiceUnavailable, enforceResponse{Allowed: false, Reason: v.Reason})
		return
	}

	switch v.Kind {
	case engine.VerdictAllow:
		writeJSON(w, http.StatusOK, enforceResponse{Allowed: true, Reason: v.Reason})
	case engine.VerdictPending:
		writeJSON(w, http.StatusOK, enforceResponse{Allowed: false, Status: "pending", ApprovalID: v.ApprovalID})
	default:
		writeJSON(w, http.StatusOK, enforceResponse{Allowed: false, Reason: v.Reason})
	}
}

// ---- /logs ----

type submitLogRequest struct {
	Action    string            `json:"action"`
	Resource  string            `json:"resource"`
	Context   json.RawMessage   `json:"context,omitempty"`
	Allowed   bool              `json:"allowed"`
	Result    string            `json:"result"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func (s *Server) handleSubmitLog(w http.ResponseWriter, r *http.Request) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	var req submitLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "malformed JSON body")
		return
	}
	result := store.Result(req.Result)
	switch result {
	case store.ResultSuccess, store.ResultDenied, store.ResultError, store.ResultPending:
	default:
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "result must be success, denied, error, or pending")
		return
	}

	entry, err := s.Audit.Append(r.Context(), store.AppendInput{
		AgentID: p.SubjectID(), Action: req.Action, Resource: req.Resource, Context: req.Context,
		Allowed: req.Allowed, Result: result, Metadata: req.Metadata, RequestID: req.RequestID,
	})
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "audit store unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	agentID := r.URL.Query().Get("agent_id")
	// An agent may only read its own log; an admin may read any.
	if p.Kind() == identity.KindAgent {
		agentID = p.SubjectID()
	}
	if agentID == "" {
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "agent_id is required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	entries, err := s.Audit.List(r.Context(), agentID, limit)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "audit store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleVerifyLogs(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "agent_id is required")
		return
	}
	result, err := s.Audit.VerifyChain(r.Context(), agentID)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "audit store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "agent_id is required")
		return
	}
	req := audit.ExportRequest{AgentID: agentID}
	if v := r.URL.Query().Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			req.StartTime = t
		}
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			req.EndTime = t
		}
	}
	zipBytes, checksum, err := s.Exporter.GeneratePack(r.Context(), req)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if location, err := s.Exporter.PersistPack(r.Context(), agentID, checksum, zipBytes); err != nil {
		slog.Error("evidence pack upload failed", "agent_id", agentID, "error", err)
	} else if location != "" {
		w.Header().Set("x-agentguard-evidence-location", location)
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-audit-export.zip"`, agentID))
	w.Header().Set("x-agentguard-checksum", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zipBytes)
}

// ---- /approvals ----

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	filter := approval.ListFilter{
		Status:  approval.Status(r.URL.Query().Get("status")),
		AgentID: r.URL.Query().Get("agent_id"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	result, err := s.Approvals.List(r.Context(), filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ar, err := s.Approvals.Get(r.Context(), id)
	if err != nil {
		if err == approval.ErrNotFound {
			WriteNotFound(w, "not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ar)
}

type approvalDecisionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleApproveApproval(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, true)
}

func (s *Server) handleDenyApproval(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, false)
}

func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	id := r.PathValue("id")
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "admin token required")
		return
	}
	var req approvalDecisionRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	ar, err := s.Approvals.Decide(r.Context(), id, approve, p.SubjectID(), req.Reason)
	switch {
	case err == approval.ErrNotFound:
		WriteNotFound(w, "not found")
	case err == approval.ErrTerminal:
		WriteConflict(w, "approval already decided")
	case err != nil:
		WriteError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
	default:
		writeJSON(w, http.StatusOK, ar)
	}
}

// ---- health/metrics ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// A process that can still serve its in-memory dependencies (token
	// signer, revocation set) is ready even if the durable store is briefly
	// unavailable — unavailability there degrades individual requests
	// (503/fail-closed) rather than the whole process.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ---- shared helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeJSONStatus(w, status, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

