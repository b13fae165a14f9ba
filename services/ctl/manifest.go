package ctl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"keysync/services/reconcile"
)

// ManifestVersion is the only manifest schema understood by this build.
const ManifestVersion = "1"

// Manifest declares the clients and roles a realm should have.
type Manifest struct {
	Version string                 `yaml:"version"`
	Clients []reconcile.ClientSpec `yaml:"clients"`
	Roles   []RoleAssignment       `yaml:"roles,omitempty"`
}

// RoleAssignment creates every listed role on every listed client.
type RoleAssignment struct {
	Clients []string             `yaml:"clients"`
	Roles   []reconcile.RoleSpec `yaml:"roles"`
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(bytes.NewReader(data))
}

// ParseManifest decodes a manifest, rejecting unknown keys.
func ParseManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest before anything is sent to the API.
func (m *Manifest) Validate() error {
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported manifest version %q", m.Version)
	}
	if len(m.Clients) == 0 && len(m.Roles) == 0 {
		return errors.New("manifest declares no clients or roles")
	}

	seen := make(map[string]struct{}, len(m.Clients))
	for i, c := range m.Clients {
		id := strings.TrimSpace(c.ClientID)
		if id == "" {
			return fmt.Errorf("clients[%d]: clientId is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("clients[%d]: duplicate clientId %q", i, id)
		}
		seen[id] = struct{}{}
		m.Clients[i].ClientID = id
	}

	for i, ra := range m.Roles {
		if len(ra.Clients) == 0 {
			return fmt.Errorf("roles[%d]: clients are required", i)
		}
		if len(ra.Roles) == 0 {
			return fmt.Errorf("roles[%d]: roles are required", i)
		}
		for j, r := range ra.Roles {
			if strings.TrimSpace(r.Name) == "" {
				return fmt.Errorf("roles[%d].roles[%d]: name is required", i, j)
			}
		}
	}
	return nil
}
