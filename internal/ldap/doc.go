/*
Package ldap provides the directory session used by the LDIF importer.

A Session wraps a single go-ldap connection. It is opened unauthenticated,
optionally bound, and then fed entries one add request at a time.

# Connection Management

Connect dials the configured host and port:

  - ldaps:// when UseTLS is set
  - StartTLS upgrade of a plain connection when StartTLS is set
  - optional CA bundle and certificate verification override
  - Timeout applied to the dial and to every request

The session performs no retries and no pooling. Connection failures are
reported as *ConnectionError.

# Authentication

BindWithConfig selects the method from the configuration:

  - none: no bind DN and password, the session stays anonymous
  - simple: DN and password
  - kerberos: GSSAPI via gokrb5, using a credential cache, keytab or password

# Adding Entries

AddEntry never returns an error. Every outcome is an AddResult whose Detail
renders the server's result code, diagnostic message and matched DN.

# Error Handling

Failures are wrapped in LDAPError and categorised (connection,
authentication, permission, not found, conflict, validation, server) from
the LDAP result code.

# Example Usage

	session, err := ldap.Connect(ctx, &ldap.ConnectionConfig{
		Host:    "ldap.example.com",
		Port:    389,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Bind(ctx, "cn=admin,dc=example,dc=com", password); err != nil {
		return err
	}

	result := session.AddEntry(ctx, entry)
	fmt.Println(result.Detail)
*/
package ldap
