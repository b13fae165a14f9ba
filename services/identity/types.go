package identity

// ClientRepresentation is the subset of a remote client the engines read.
type ClientRepresentation struct {
	ID                           string   `json:"id"`
	ClientID                     string   `json:"clientId"`
	Name                         string   `json:"name,omitempty"`
	Enabled                      bool     `json:"enabled"`
	Protocol                     string   `json:"protocol,omitempty"`
	PublicClient                 bool     `json:"publicClient"`
	RedirectURIs                 []string `json:"redirectUris,omitempty"`
	ServiceAccountsEnabled       bool     `json:"serviceAccountsEnabled"`
	AuthorizationServicesEnabled bool     `json:"authorizationServicesEnabled"`
}

// NewClientRepresentation is the allow-listed create payload.
type NewClientRepresentation struct {
	ClientID                     string   `json:"clientId"`
	Name                         string   `json:"name,omitempty"`
	Enabled                      bool     `json:"enabled"`
	RedirectURIs                 []string `json:"redirectUris"`
	PublicClient                 bool     `json:"publicClient"`
	AuthorizationServicesEnabled bool     `json:"authorizationServicesEnabled"`
	ServiceAccountsEnabled       bool     `json:"serviceAccountsEnabled"`
	DirectAccessGrantsEnabled    bool     `json:"directAccessGrantsEnabled"`
}

// RoleRepresentation is a client role.
type RoleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite,omitempty"`
	ClientRole  bool   `json:"clientRole,omitempty"`
}

// ClientScope is an entry of a client's default or optional scope list.
type ClientScope struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RolePolicy is the role-type authorization policy payload.
type RolePolicy struct {
	Name             string        `json:"name"`
	Type             string        `json:"type"`
	Logic            string        `json:"logic"`
	DecisionStrategy string        `json:"decisionStrategy"`
	Roles            []PolicyRoles `json:"roles"`
}

type PolicyRoles struct {
	ID string `json:"id"`
}

// AuthzItem is an authorization resource, scope, policy or permission kept
// as raw JSON fields so imports preserve attributes the engine does not model.
type AuthzItem map[string]any

// Name returns the item's name field, or "".
func (i AuthzItem) Name() string {
	if v, ok := i["name"].(string); ok {
		return v
	}
	return ""
}

// ID returns the item's id field, or "".
func (i AuthzItem) ID() string {
	if v, ok := i["id"].(string); ok {
		return v
	}
	return ""
}

// AuthzKind names a resource-server collection.
type AuthzKind string

const (
	AuthzResource   AuthzKind = "resource"
	AuthzScope      AuthzKind = "scope"
	AuthzPolicy     AuthzKind = "policy"
	AuthzPermission AuthzKind = "permission"
)

// ScopeKind names one of a client's scope attachment lists.
type ScopeKind string

const (
	DefaultClientScopes  ScopeKind = "default-client-scopes"
	OptionalClientScopes ScopeKind = "optional-client-scopes"
)
