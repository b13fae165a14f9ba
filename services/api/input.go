package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"keysync/services/reconcile"
)

// stringList accepts either a single string or a list of strings.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var one string
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*s = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*s = many
	return nil
}

// normalize trims every entry and rejects empty lists and blank entries.
func (s stringList) normalize(field string) ([]string, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("%s must not be empty", field)
	}
	out := make([]string, 0, len(s))
	for _, v := range s {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, fmt.Errorf("%s contains a blank entry", field)
		}
		out = append(out, v)
	}
	return out, nil
}

// roleInput accepts a role name, a {name, description} object, or a list
// mixing both, and yields the canonical RoleSpec list.
type roleInput []reconcile.RoleSpec

func (ri *roleInput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("roles are required")
	}
	if b[0] != '[' {
		spec, err := decodeRole(b)
		if err != nil {
			return err
		}
		*ri = roleInput{spec}
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(roleInput, 0, len(raw))
	for _, item := range raw {
		spec, err := decodeRole(item)
		if err != nil {
			return err
		}
		out = append(out, spec)
	}
	*ri = out
	return nil
}

func decodeRole(b []byte) (reconcile.RoleSpec, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return reconcile.RoleSpec{}, err
		}
		return reconcile.RoleSpec{Name: name}, nil
	}

	var obj struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&obj); err != nil {
		return reconcile.RoleSpec{}, fmt.Errorf("role must be a name or an object with name and description: %w", err)
	}
	if obj.Name == nil {
		return reconcile.RoleSpec{}, errors.New("role object requires a name")
	}
	spec := reconcile.RoleSpec{Name: *obj.Name}
	if obj.Description != nil {
		spec.Description = *obj.Description
	}
	return spec, nil
}

func (ri roleInput) normalize() ([]reconcile.RoleSpec, error) {
	if len(ri) == 0 {
		return nil, errors.New("roles must not be empty")
	}
	out := make([]reconcile.RoleSpec, 0, len(ri))
	for _, r := range ri {
		r.Name = strings.TrimSpace(r.Name)
		r.Description = strings.TrimSpace(r.Description)
		if r.Name == "" {
			return nil, errors.New("role name must not be blank")
		}
		out = append(out, r)
	}
	return out, nil
}

// clientSpecs accepts a bare list of client specs or {"clients": [...]}.
type clientSpecs []reconcile.ClientSpec

func (cs *clientSpecs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var list []reconcile.ClientSpec
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*cs = list
		return nil
	}
	var wrapped struct {
		Clients []reconcile.ClientSpec `json:"clients"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	*cs = wrapped.Clients
	return nil
}
