package identity

import (
	"context"
	"net/http"
	"net/url"
)

func clientPath(uuid string) string { return "/clients/" + url.PathEscape(uuid) }

func authzPath(uuid string, kind AuthzKind) string {
	return clientPath(uuid) + "/authz/resource-server/" + string(kind)
}

// ListClients returns every client in the realm.
func (c *Client) ListClients(ctx context.Context) ([]ClientRepresentation, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/clients", nil)
	if err != nil {
		return nil, err
	}
	var out []ClientRepresentation
	return out, resp.Decode(&out)
}

// FindClientsByClientID filters clients by their clientId.
func (c *Client) FindClientsByClientID(ctx context.Context, clientID string) ([]ClientRepresentation, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/clients?clientId="+url.QueryEscape(clientID), nil)
	if err != nil {
		return nil, err
	}
	var out []ClientRepresentation
	return out, resp.Decode(&out)
}

// CreateClient registers a new client.
func (c *Client) CreateClient(ctx context.Context, payload NewClientRepresentation) error {
	_, err := c.Do(ctx, http.MethodPost, "/clients", payload)
	return err
}

// DeleteClient removes a client by its UUID.
func (c *Client) DeleteClient(ctx context.Context, uuid string) error {
	_, err := c.Do(ctx, http.MethodDelete, clientPath(uuid), nil)
	return err
}

// ListRoles returns the client's roles.
func (c *Client) ListRoles(ctx context.Context, uuid string) ([]RoleRepresentation, error) {
	resp, err := c.Do(ctx, http.MethodGet, clientPath(uuid)+"/roles", nil)
	if err != nil {
		return nil, err
	}
	var out []RoleRepresentation
	return out, resp.Decode(&out)
}

// CreateRole adds a client role. An existing role surfaces as a 409 UpstreamError.
func (c *Client) CreateRole(ctx context.Context, uuid string, role RoleRepresentation) error {
	_, err := c.Do(ctx, http.MethodPost, clientPath(uuid)+"/roles", role)
	return err
}

// GetRole fetches one role by name.
func (c *Client) GetRole(ctx context.Context, uuid, name string) (*RoleRepresentation, error) {
	resp, err := c.Do(ctx, http.MethodGet, clientPath(uuid)+"/roles/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	var out RoleRepresentation
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRole removes a role by name.
func (c *Client) DeleteRole(ctx context.Context, uuid, name string) error {
	_, err := c.Do(ctx, http.MethodDelete, clientPath(uuid)+"/roles/"+url.PathEscape(name), nil)
	return err
}

// ListAuthz returns every item of kind on the client's resource server.
func (c *Client) ListAuthz(ctx context.Context, uuid string, kind AuthzKind) ([]AuthzItem, error) {
	resp, err := c.Do(ctx, http.MethodGet, authzPath(uuid, kind), nil)
	if err != nil {
		return nil, err
	}
	var out []AuthzItem
	return out, resp.Decode(&out)
}

// FindAuthzByName returns the items of kind whose name equals name.
func (c *Client) FindAuthzByName(ctx context.Context, uuid string, kind AuthzKind, name string) ([]AuthzItem, error) {
	resp, err := c.Do(ctx, http.MethodGet, authzPath(uuid, kind)+"?name="+url.QueryEscape(name), nil)
	if err != nil {
		return nil, err
	}
	var found []AuthzItem
	if err := resp.Decode(&found); err != nil {
		return nil, err
	}
	out := found[:0]
	for _, item := range found {
		if item.Name() == name {
			out = append(out, item)
		}
	}
	return out, nil
}

// CreateAuthz posts one item of kind.
func (c *Client) CreateAuthz(ctx context.Context, uuid string, kind AuthzKind, item AuthzItem) error {
	_, err := c.Do(ctx, http.MethodPost, authzPath(uuid, kind), item)
	return err
}

// CreateRolePolicy posts a role-type policy.
func (c *Client) CreateRolePolicy(ctx context.Context, uuid string, policy RolePolicy) error {
	_, err := c.Do(ctx, http.MethodPost, authzPath(uuid, AuthzPolicy)+"/role", policy)
	return err
}

// DeleteAuthzPolicy removes a policy by id.
func (c *Client) DeleteAuthzPolicy(ctx context.Context, uuid, policyID string) error {
	_, err := c.Do(ctx, http.MethodDelete, authzPath(uuid, AuthzPolicy)+"/"+url.PathEscape(policyID), nil)
	return err
}

// ClientScopes lists the scopes attached to the client under kind.
func (c *Client) ClientScopes(ctx context.Context, uuid string, kind ScopeKind) ([]ClientScope, error) {
	resp, err := c.Do(ctx, http.MethodGet, clientPath(uuid)+"/"+string(kind), nil)
	if err != nil {
		return nil, err
	}
	var out []ClientScope
	return out, resp.Decode(&out)
}

// DetachClientScope removes a scope from the client's kind list.
func (c *Client) DetachClientScope(ctx context.Context, uuid string, kind ScopeKind, scopeID string) error {
	_, err := c.Do(ctx, http.MethodDelete, clientPath(uuid)+"/"+string(kind)+"/"+url.PathEscape(scopeID), nil)
	return err
}

// DeleteClientScope removes a realm-level client scope.
func (c *Client) DeleteClientScope(ctx context.Context, scopeID string) error {
	_, err := c.Do(ctx, http.MethodDelete, "/client-scopes/"+url.PathEscape(scopeID), nil)
	return err
}

// GetClientRaw fetches the full client representation as loose JSON so it can
// be written back without dropping fields.
func (c *Client) GetClientRaw(ctx context.Context, uuid string) (map[string]any, error) {
	resp, err := c.Do(ctx, http.MethodGet, clientPath(uuid), nil)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	return out, resp.Decode(&out)
}

// UpdateClientRaw replaces the client representation.
func (c *Client) UpdateClientRaw(ctx context.Context, uuid string, rep map[string]any) error {
	_, err := c.Do(ctx, http.MethodPut, clientPath(uuid), rep)
	return err
}
