package identity

// PrincipalKind distinguishes the three identity classes AgentGuard
// authenticates: automated agents, human administrators, and anonymous
// public callers (health checks, JWKS fetch).
type PrincipalKind string

const (
	KindAgent  PrincipalKind = "agent"
	KindAdmin  PrincipalKind = "admin"
	KindPublic PrincipalKind = "public"
)

// AdminRole orders administrator privilege for the approval endpoints
// ("role >= approver" per the approval-decision auth rule).
type AdminRole string

const (
	RoleSuperAdmin AdminRole = "super-admin"
	RoleAdmin      AdminRole = "admin"
	RoleAuditor    AdminRole = "auditor"
	RoleApprover   AdminRole = "approver"
)

// adminRoleRank orders roles for ">=" comparisons; higher is more privileged.
var adminRoleRank = map[AdminRole]int{
	RoleAuditor:    0,
	RoleApprover:   1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// AtLeast reports whether r carries at least the privilege of min.
func (r AdminRole) AtLeast(min AdminRole) bool {
	return adminRoleRank[r] >= adminRoleRank[min]
}

// Principal is any entity that has passed the auth gate (component K).
type Principal interface {
	Kind() PrincipalKind
	SubjectID() string
	Team() string
	Env() string
	Role() AdminRole
}

// AgentPrincipal is a request made by an authenticated agent.
type AgentPrincipal struct {
	AgentID   string
	TeamName  string
	EnvName   string
}

func (a *AgentPrincipal) Kind() PrincipalKind { return KindAgent }
func (a *AgentPrincipal) SubjectID() string   { return a.AgentID }
func (a *AgentPrincipal) Team() string        { return a.TeamName }
func (a *AgentPrincipal) Env() string         { return a.EnvName }
func (a *AgentPrincipal) Role() AdminRole     { return "" }

// AdminPrincipal is a request made by an authenticated administrator, or
// the implicit super-admin bound to the process-wide shared secret.
type AdminPrincipal struct {
	AdminID  string
	TeamName string // empty/"*" means all teams
	RoleName AdminRole
}

func (a *AdminPrincipal) Kind() PrincipalKind { return KindAdmin }
func (a *AdminPrincipal) SubjectID() string   { return a.AdminID }
func (a *AdminPrincipal) Team() string        { return a.TeamName }
func (a *AdminPrincipal) Env() string         { return "" }
func (a *AdminPrincipal) Role() AdminRole     { return a.RoleName }

// PublicPrincipal represents an unauthenticated caller on a public route.
type PublicPrincipal struct {
	RemoteAddr string
}

func (p *PublicPrincipal) Kind() PrincipalKind { return KindPublic }
func (p *PublicPrincipal) SubjectID() string   { return p.RemoteAddr }
func (p *PublicPrincipal) Team() string        { return "" }
func (p *PublicPrincipal) Env() string         { return "" }
func (p *PublicPrincipal) Role() AdminRole     { return "" }
