package ldap

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tflogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldifimport/internal/ldif"
)

// fakeConn records the requests a Session sends.
type fakeConn struct {
	bindErr  error
	addErr   error
	addPanic any
	closeErr error

	binds  []string
	adds   []*ldap.AddRequest
	closes int
}

func (c *fakeConn) Bind(username, _ string) error {
	c.binds = append(c.binds, username)
	return c.bindErr
}

func (c *fakeConn) Add(req *ldap.AddRequest) error {
	if c.addPanic != nil {
		panic(c.addPanic)
	}
	c.adds = append(c.adds, req)
	return c.addErr
}

func (c *fakeConn) GSSAPIBind(ldap.GSSAPIClient, string, string) error {
	return errors.New("not supported by fake")
}

func (c *fakeConn) Close() error {
	c.closes++
	return c.closeErr
}

func connectFake(t *testing.T, conn *fakeConn, cfg *ConnectionConfig) *Session {
	t.Helper()

	if cfg == nil {
		cfg = &ConnectionConfig{Host: "ldap.example.com", Port: 389}
	}

	session, err := Connect(t.Context(), cfg, WithDialer(func(context.Context, *ConnectionConfig) (Conn, error) {
		return conn, nil
	}))
	require.NoError(t, err)

	return session
}

func testEntry() *ldif.Entry {
	return &ldif.Entry{
		DN: "cn=alice,ou=people,dc=example,dc=com",
		Attributes: []ldif.Attribute{
			{Name: "objectClass", Values: []string{"top", "person"}},
			{Name: "cn", Values: []string{"alice"}},
			{Name: "sn", Values: []string{"Smith"}},
		},
	}
}

func TestConnect(t *testing.T) {
	t.Run("dial failure", func(t *testing.T) {
		var output bytes.Buffer
		ctx := tflogtest.RootLogger(t.Context(), &output)
		ctx = tflog.NewSubsystem(ctx, Subsystem)

		dialErr := ldap.NewError(ldap.ErrorNetwork, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED})

		session, err := Connect(ctx, &ConnectionConfig{Host: "127.0.0.1", Port: 389},
			WithDialer(func(context.Context, *ConnectionConfig) (Conn, error) {
				return nil, dialErr
			}))

		assert.Nil(t, session)
		var connErr *ConnectionError
		require.True(t, errors.As(err, &connErr))
		assert.ErrorIs(t, err, dialErr)
		assert.Contains(t, err.Error(), "failed to connect to ldap://127.0.0.1:389")
		assert.True(t, IsTransient(err))

		entries, decodeErr := tflogtest.MultilineJSONDecode(&output)
		require.NoError(t, decodeErr)
		require.Len(t, entries, 2)
		assert.Equal(t, "connection_failed", entries[1]["event"])
		assert.Equal(t, true, entries[1]["transient"])
	})

	t.Run("certificate failure is permanent", func(t *testing.T) {
		dialErr := ldap.NewError(ldap.ErrorNetwork, x509.UnknownAuthorityError{})

		_, err := Connect(t.Context(), &ConnectionConfig{Host: "ldap.example.com", Port: 636, UseTLS: true},
			WithDialer(func(context.Context, *ConnectionConfig) (Conn, error) {
				return nil, dialErr
			}))

		require.Error(t, err)
		assert.False(t, IsTransient(err))
		assert.Equal(t, ErrorCategoryConnection, CategoryOf(err))
	})

	t.Run("missing host", func(t *testing.T) {
		called := false
		_, err := Connect(t.Context(), &ConnectionConfig{Port: 389},
			WithDialer(func(context.Context, *ConnectionConfig) (Conn, error) {
				called = true
				return nil, nil
			}))

		var connErr *ConnectionError
		require.True(t, errors.As(err, &connErr))
		assert.False(t, called)
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := Connect(t.Context(), nil)
		assert.Error(t, err)
	})

	t.Run("success", func(t *testing.T) {
		conn := &fakeConn{}
		session := connectFake(t, conn, nil)
		assert.Equal(t, "ldap.example.com", session.config.Host)
		assert.Empty(t, conn.binds, "connect must not authenticate")
	})
}

func TestSession_Bind(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		conn := &fakeConn{}
		session := connectFake(t, conn, nil)

		require.NoError(t, session.Bind(t.Context(), "cn=admin,dc=example,dc=com", "secret"))
		assert.Equal(t, []string{"cn=admin,dc=example,dc=com"}, conn.binds)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		conn := &fakeConn{bindErr: ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))}
		session := connectFake(t, conn, nil)

		err := session.Bind(t.Context(), "cn=admin,dc=example,dc=com", "wrong")
		require.Error(t, err)

		var ldapErr *LDAPError
		require.True(t, errors.As(err, &ldapErr))
		assert.Equal(t, ErrorCategoryAuthentication, ldapErr.Category)
		assert.Equal(t, uint16(ldap.LDAPResultInvalidCredentials), ldapErr.LDAPCode)
		assert.Equal(t, "cn=admin,dc=example,dc=com", ldapErr.DN)
	})

	t.Run("closed session", func(t *testing.T) {
		session := connectFake(t, &fakeConn{}, nil)
		require.NoError(t, session.Close())

		err := session.Bind(t.Context(), "cn=admin,dc=example,dc=com", "secret")
		assert.Error(t, err)
	})
}

func TestSession_BindWithConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    *ConnectionConfig
		wantBinds []string
		wantErr   bool
	}{
		{
			name:      "no credentials stays anonymous",
			config:    &ConnectionConfig{Host: "ldap.example.com"},
			wantBinds: nil,
		},
		{
			name:      "dn without password stays anonymous",
			config:    &ConnectionConfig{Host: "ldap.example.com", BindDN: "cn=admin,dc=example,dc=com"},
			wantBinds: nil,
		},
		{
			name: "simple bind",
			config: &ConnectionConfig{
				Host:     "ldap.example.com",
				BindDN:   "cn=admin,dc=example,dc=com",
				Password: "secret",
			},
			wantBinds: []string{"cn=admin,dc=example,dc=com"},
		},
		{
			name: "kerberos without usable configuration",
			config: &ConnectionConfig{
				Host:           "ldap.example.com",
				BindDN:         "svc-import",
				Password:       "secret",
				KerberosRealm:  "EXAMPLE.COM",
				KerberosConfig: "/nonexistent/krb5.conf",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{}
			session := connectFake(t, conn, tt.config)

			err := session.BindWithConfig(t.Context())
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, IsAuthenticationError(err))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantBinds, conn.binds)
		})
	}
}

func TestSession_AddEntry(t *testing.T) {
	t.Run("added", func(t *testing.T) {
		conn := &fakeConn{}
		session := connectFake(t, conn, nil)

		result := session.AddEntry(t.Context(), testEntry())

		assert.Equal(t, AddStatusAdded, result.Status)
		assert.Equal(t, uint16(0), result.Code)
		assert.Equal(t, "LDAPResult(resultCode=0 (Success), dn='cn=alice,ou=people,dc=example,dc=com')", result.Detail)

		require.Len(t, conn.adds, 1)
		req := conn.adds[0]
		assert.Equal(t, "cn=alice,ou=people,dc=example,dc=com", req.DN)
		require.Len(t, req.Attributes, 3)
		assert.Equal(t, "objectClass", req.Attributes[0].Type)
		assert.Equal(t, []string{"top", "person"}, req.Attributes[0].Vals)
	})

	t.Run("trace log renders redacted ldif", func(t *testing.T) {
		var output bytes.Buffer
		ctx := tflogtest.RootLogger(t.Context(), &output)
		ctx = tflog.NewSubsystem(ctx, Subsystem)

		entry := testEntry()
		entry.Attributes = append(entry.Attributes, ldif.Attribute{Name: "userPassword", Values: []string{"hunter2"}})

		session := connectFake(t, &fakeConn{}, nil)
		result := session.AddEntry(ctx, entry)
		require.Equal(t, AddStatusAdded, result.Status)

		raw := output.String()
		entries, err := tflogtest.MultilineJSONDecode(&output)
		require.NoError(t, err)

		var rendered string
		for _, e := range entries {
			if e["@message"] == "Add request" {
				rendered, _ = e["ldif"].(string)
			}
		}
		assert.Equal(t, "dn: cn=alice,ou=people,dc=example,dc=com\n"+
			"objectClass: top\n"+
			"objectClass: person\n"+
			"cn: alice\n"+
			"sn: Smith\n"+
			"userPassword: [REDACTED]\n", rendered)
		assert.NotContains(t, raw, "hunter2")
		assert.Equal(t, []string{"hunter2"}, entry.Attributes[3].Values, "submitted entry keeps its password")
	})

	t.Run("already exists", func(t *testing.T) {
		conn := &fakeConn{addErr: ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("entry already exists"))}
		session := connectFake(t, conn, nil)

		result := session.AddEntry(t.Context(), testEntry())

		assert.Equal(t, AddStatusRejected, result.Status)
		assert.Equal(t, uint16(ldap.LDAPResultEntryAlreadyExists), result.Code)
		assert.Contains(t, result.Detail, "resultCode=68")
		assert.Contains(t, result.Detail, "dn='cn=alice,ou=people,dc=example,dc=com'")
		assert.Contains(t, result.Detail, "diagnosticMessage='entry already exists'")
	})

	t.Run("missing parent reports matched dn", func(t *testing.T) {
		conn := &fakeConn{addErr: &ldap.Error{
			ResultCode: ldap.LDAPResultNoSuchObject,
			Err:        errors.New("no such object"),
			MatchedDN:  "dc=example,dc=com",
		}}
		session := connectFake(t, conn, nil)

		result := session.AddEntry(t.Context(), testEntry())

		assert.Equal(t, AddStatusRejected, result.Status)
		assert.Contains(t, result.Detail, "matchedDN='dc=example,dc=com'")
	})

	t.Run("transport error", func(t *testing.T) {
		conn := &fakeConn{addErr: errors.New("write: broken pipe")}
		session := connectFake(t, conn, nil)

		result := session.AddEntry(t.Context(), testEntry())

		assert.Equal(t, AddStatusRejected, result.Status)
		assert.Equal(t, uint16(ldap.LDAPResultOther), result.Code)
		assert.Contains(t, result.Detail, "broken pipe")
	})

	t.Run("panic is contained", func(t *testing.T) {
		conn := &fakeConn{addPanic: "boom"}
		session := connectFake(t, conn, nil)

		var result AddResult
		assert.NotPanics(t, func() {
			result = session.AddEntry(t.Context(), testEntry())
		})
		assert.Equal(t, AddStatusRejected, result.Status)
		assert.Equal(t, uint16(ldap.LDAPResultLocalError), result.Code)
		assert.Contains(t, result.Detail, "boom")
	})

	t.Run("closed session", func(t *testing.T) {
		conn := &fakeConn{}
		session := connectFake(t, conn, nil)
		require.NoError(t, session.Close())

		result := session.AddEntry(t.Context(), testEntry())

		assert.Equal(t, AddStatusRejected, result.Status)
		assert.Contains(t, result.Detail, "session is not connected")
		assert.Empty(t, conn.adds)
	})

	t.Run("nil entry", func(t *testing.T) {
		session := connectFake(t, &fakeConn{}, nil)
		result := session.AddEntry(t.Context(), nil)
		assert.Equal(t, AddStatusRejected, result.Status)
	})
}

func TestSession_Close(t *testing.T) {
	conn := &fakeConn{closeErr: errors.New("already gone")}
	session := connectFake(t, conn, nil)

	assert.EqualError(t, session.Close(), "already gone")
	assert.NoError(t, session.Close())
	assert.Equal(t, 1, conn.closes)
}

func TestFormatResult(t *testing.T) {
	got := formatResult(ldap.LDAPResultEntryAlreadyExists, "cn=a,dc=example,dc=com", "exists", "dc=example,dc=com")
	want := "LDAPResult(resultCode=68 (" + ResultCodeName(ldap.LDAPResultEntryAlreadyExists) +
		"), dn='cn=a,dc=example,dc=com', diagnosticMessage='exists', matchedDN='dc=example,dc=com')"
	assert.Equal(t, want, got)
}
