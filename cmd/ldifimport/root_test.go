package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldifimport/internal/config"
	"github.com/isometry/ldifimport/internal/importer"
	"github.com/isometry/ldifimport/internal/ldap"
	"github.com/isometry/ldifimport/internal/ldif"
)

const twoPeople = `dn: cn=alice,dc=example,dc=com
objectClass: person
cn: alice
sn: Smith

dn: cn=bob,dc=example,dc=com
objectClass: person
cn: bob
sn: Jones
`

type stubSession struct {
	reject map[string]bool
	added  []string
}

func (s *stubSession) BindWithConfig(context.Context) error { return nil }

func (s *stubSession) AddEntry(_ context.Context, entry *ldif.Entry) ldap.AddResult {
	s.added = append(s.added, entry.DN)
	if s.reject[entry.DN] {
		return ldap.AddResult{Status: ldap.AddStatusRejected, Code: 68, Detail: "exists: " + entry.DN}
	}
	return ldap.AddResult{Status: ldap.AddStatusAdded, Detail: "added: " + entry.DN}
}

func (s *stubSession) Close() error { return nil }

func withSession(session importer.Session) importer.Option {
	return importer.WithConnector(func(context.Context, *ldap.ConnectionConfig) (importer.Session, error) {
		return session, nil
	})
}

func writeLDIF(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entries.ldif")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args []string, opts ...importer.Option) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(opts...)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

func TestRootCommand_Import(t *testing.T) {
	session := &stubSession{}
	path := writeLDIF(t, twoPeople)

	stdout, _, err := execute(t, []string{"--endpoint", "localhost:389", "--file", path}, withSession(session))

	require.NoError(t, err)
	assert.Equal(t, "LDAP Result: added: cn=alice,dc=example,dc=com ;; added: cn=bob,dc=example,dc=com ;; \n", stdout)
	assert.Len(t, session.added, 2)
}

func TestRootCommand_ExitStatus(t *testing.T) {
	path := writeLDIF(t, twoPeople)
	reject := map[string]bool{"cn=bob,dc=example,dc=com": true}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name: "errors tolerated by default",
			args: []string{"--endpoint", "localhost:389", "--file", path},
		},
		{
			name:    "fail on error",
			args:    []string{"--endpoint", "localhost:389", "--file", path, "--fail-on-error"},
			wantErr: "import completed with 1 errors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, tt.args, withSession(&stubSession{reject: reject}))

			assert.Contains(t, stdout, "exists: cn=bob,dc=example,dc=com ;; ")
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRootCommand_MissingSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.ldif")
	connector := importer.WithConnector(func(context.Context, *ldap.ConnectionConfig) (importer.Session, error) {
		t.Fatal("connect must not be attempted without a source")
		return nil, nil
	})

	stdout, _, err := execute(t, []string{"--endpoint", "localhost:389", "--file", path}, connector)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "import source_unavailable")
	assert.Contains(t, stdout, "LDAP Result: error opening LDIF source "+path)
}

func TestRootCommand_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantField string
	}{
		{name: "missing endpoint", args: []string{"--file", "entries.ldif"}, wantField: config.KeyEndpoint},
		{name: "missing file", args: []string{"--endpoint", "localhost:389"}, wantField: config.KeyFile},
		{name: "bad port", args: []string{"--endpoint", "localhost:0", "--file", "entries.ldif"}, wantField: config.KeyEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, _, err := execute(t, tt.args)

			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrInvalid))

			var cfgErr *config.Error
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantField, cfgErr.Field)
			assert.Empty(t, stdout)
		})
	}
}

func TestRootCommand_BadLogLevel(t *testing.T) {
	_, _, err := execute(t, []string{"--endpoint", "localhost:389", "--file", "x.ldif", "--log-level", "loud"})

	assert.ErrorContains(t, err, `unknown log level "loud"`)
}

func TestRootCommand_Environment(t *testing.T) {
	path := writeLDIF(t, twoPeople)
	t.Setenv("LDIFIMPORT_ENDPOINT", "localhost:389")
	t.Setenv("LDIFIMPORT_FILE", path)
	t.Setenv("LDIFIMPORT_MAX_RESULT_DETAILS", "1")

	stdout, _, err := execute(t, nil, withSession(&stubSession{}))

	require.NoError(t, err)
	assert.Equal(t, "LDAP Result: added: cn=alice,dc=example,dc=com ;; ... 1 more ;; \n", stdout)
}

func TestRootCommand_ConfigFile(t *testing.T) {
	path := writeLDIF(t, twoPeople)
	cfgFile := filepath.Join(t.TempDir(), "ldifimport.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(fmt.Sprintf("endpoint: localhost:389\nfile: %s\n", path)), 0o600))

	var bound *ldap.ConnectionConfig
	connector := importer.WithConnector(func(_ context.Context, cfg *ldap.ConnectionConfig) (importer.Session, error) {
		bound = cfg
		return &stubSession{}, nil
	})

	_, stderr, err := execute(t, []string{"--config", cfgFile, "--endpoint", "ldap.example.com:10389"}, connector)

	require.NoError(t, err)
	assert.Contains(t, stderr, "Using config file: "+cfgFile)
	require.NotNil(t, bound)
	assert.Equal(t, "ldap.example.com", bound.Host, "flags take precedence over the config file")
	assert.Equal(t, 10389, bound.Port)
}

func TestRootCommand_MetricsFile(t *testing.T) {
	path := writeLDIF(t, twoPeople)
	metricsFile := filepath.Join(t.TempDir(), "ldifimport.prom")

	_, _, err := execute(t,
		[]string{"--endpoint", "localhost:389", "--file", path, "--metrics-file", metricsFile},
		withSession(&stubSession{}))
	require.NoError(t, err)

	content, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "ldifimport_entries_total")
	assert.Contains(t, string(content), "ldifimport_run_duration_seconds")
}
