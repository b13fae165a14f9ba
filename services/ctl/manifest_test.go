package ctl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
version: "1"
clients:
  - clientId: " acme "
    company_name: Acme
    email: ops@acme.test
    redirectUris: ["https://acme.test/cb"]
  - clientId: globex
    company_name: Globex
    email: it@globex.test
    import_from_client: template
roles:
  - clients: [acme, globex]
    roles:
      - name: admin
        description: Full access
      - name: viewer
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest))
	require.NoError(t, err)

	require.Len(t, m.Clients, 2)
	assert.Equal(t, "acme", m.Clients[0].ClientID)
	assert.Equal(t, []string{"https://acme.test/cb"}, m.Clients[0].RedirectURIs)
	assert.Equal(t, "template", m.Clients[1].ImportFromClient)

	require.Len(t, m.Roles, 1)
	assert.Equal(t, []string{"acme", "globex"}, m.Roles[0].Clients)
	assert.Equal(t, "admin", m.Roles[0].Roles[0].Name)
	assert.Equal(t, "Full access", m.Roles[0].Roles[0].Description)
	assert.Empty(t, m.Roles[0].Roles[1].Description)
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o600))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.Clients, 2)

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read manifest")
}

func TestParseManifestRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "manifest is empty"},
		{"unknown key", "version: \"1\"\nclients:\n  - clientId: a\n    colour: red\n", "colour"},
		{"bad version", "version: \"2\"\nclients:\n  - clientId: a\n", "unsupported manifest version"},
		{"nothing declared", "version: \"1\"\n", "no clients or roles"},
		{"missing client id", "version: \"1\"\nclients:\n  - company_name: a\n", "clients[0]: clientId is required"},
		{"duplicate client id", "version: \"1\"\nclients:\n  - clientId: a\n  - clientId: \" a\"\n", "duplicate clientId"},
		{"roles without clients", "version: \"1\"\nroles:\n  - roles: [{name: admin}]\n", "roles[0]: clients are required"},
		{"roles without roles", "version: \"1\"\nroles:\n  - clients: [a]\n", "roles[0]: roles are required"},
		{"blank role name", "version: \"1\"\nroles:\n  - clients: [a]\n    roles: [{name: \" \"}]\n", "roles[0].roles[0]: name is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
