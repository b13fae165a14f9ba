package reconcile

import (
	"strings"

	"keysync/services/identity"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ClientSpec is one client to create or reactivate.
type ClientSpec struct {
	ClientID         string `json:"clientId" yaml:"clientId"`
	ClientName       string `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	CompanyName      string `json:"company_name" yaml:"company_name"`
	Email            string `json:"email" yaml:"email"`
	Status           string `json:"status,omitempty" yaml:"status,omitempty"`
	ClientBucketPath string `json:"client_bucket_path,omitempty" yaml:"client_bucket_path,omitempty"`
	ClientBucketName string `json:"client_bucket_name,omitempty" yaml:"client_bucket_name,omitempty"`

	Enabled                      *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	RedirectURIs                 []string `json:"redirectUris,omitempty" yaml:"redirectUris,omitempty"`
	PublicClient                 bool     `json:"publicClient" yaml:"publicClient"`
	AuthorizationServicesEnabled *bool    `json:"authorizationServicesEnabled,omitempty" yaml:"authorizationServicesEnabled,omitempty"`
	ServiceAccountsEnabled       *bool    `json:"serviceAccountsEnabled,omitempty" yaml:"serviceAccountsEnabled,omitempty"`
	DirectAccessGrantsEnabled    *bool    `json:"directAccessGrantsEnabled,omitempty" yaml:"directAccessGrantsEnabled,omitempty"`

	// ImportFromClient names a client whose authorization settings are copied
	// onto the new one.
	ImportFromClient string `json:"import_from_client,omitempty" yaml:"import_from_client,omitempty"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// payload builds the allow-listed remote representation. Authorization
// services are always enabled so policies can be attached later.
func (s ClientSpec) payload(defaultRedirect string) identity.NewClientRepresentation {
	name := strings.TrimSpace(s.ClientName)
	if name == "" {
		name = s.ClientID
	}
	redirects := s.RedirectURIs
	if len(redirects) == 0 && defaultRedirect != "" {
		redirects = []string{defaultRedirect}
	}
	if redirects == nil {
		redirects = []string{}
	}
	return identity.NewClientRepresentation{
		ClientID:                     s.ClientID,
		Name:                         name,
		Enabled:                      boolOr(s.Enabled, true),
		RedirectURIs:                 redirects,
		PublicClient:                 s.PublicClient,
		AuthorizationServicesEnabled: true,
		ServiceAccountsEnabled:       boolOr(s.ServiceAccountsEnabled, true),
		DirectAccessGrantsEnabled:    boolOr(s.DirectAccessGrantsEnabled, true),
	}
}

// ClientResult is the per-client outcome of a batch.
type ClientResult struct {
	ClientID string `json:"client_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
}

// RoleSpec is the canonical role input built at the HTTP boundary.
type RoleSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// RoleOutcome reports a created or reactivated role.
type RoleOutcome struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	RoleUUID    *string `json:"role_uuid,omitempty"`
}

// RoleFailure reports a role that could not be reconciled.
type RoleFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// RoleBatch groups role outcomes for one client.
type RoleBatch struct {
	Created     []RoleOutcome `json:"created"`
	Reactivated []RoleOutcome `json:"reactivated"`
	Failed      []RoleFailure `json:"failed"`
}

func newRoleBatch() *RoleBatch {
	return &RoleBatch{
		Created:     []RoleOutcome{},
		Reactivated: []RoleOutcome{},
		Failed:      []RoleFailure{},
	}
}

// Role deletion statuses.
const (
	RoleDeleted  = "deleted"
	RoleNotFound = "not_found"
	RoleFailed   = "failed"
)

// RoleDeletion is the outcome for one role of one client. RoleName is empty
// when the whole client failed before any role was looked at.
type RoleDeletion struct {
	RoleName string `json:"role_name,omitempty"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// ClientRoleDeletion groups role deletions for one client.
type ClientRoleDeletion struct {
	ClientID     string         `json:"client_id"`
	DeletedRoles []RoleDeletion `json:"deleted_roles"`
}

// RoleDeletionMessage accompanies every role deletion batch.
const RoleDeletionMessage = "Role deletion completed (soft delete + policy cleanup applied)"
