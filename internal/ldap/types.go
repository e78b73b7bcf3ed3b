package ldap

import (
	"net"
	"strconv"
	"time"
)

const (
	// DefaultPort is the plain LDAP port.
	DefaultPort = 389

	// DefaultTLSPort is the LDAPS port.
	DefaultTLSPort = 636

	// DefaultTimeout bounds dialing and each request on the connection.
	DefaultTimeout = 30 * time.Second
)

// ConnectionConfig holds configuration for a single directory session.
type ConnectionConfig struct {
	// Connection settings
	Host    string        // Directory server host name or address
	Port    int           // Directory server port
	Timeout time.Duration // Dial and request timeout

	// Authentication settings
	BindDN         string // DN for simple bind; principal name for Kerberos
	Password       string // Password for simple bind or Kerberos password authentication
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosCCache string // Path to Kerberos credential cache
	KerberosSPN    string // Service principal override, defaults to ldap/<host>

	// TLS settings
	UseTLS             bool   // Dial ldaps:// directly
	StartTLS           bool   // Upgrade a plain connection with StartTLS
	InsecureSkipVerify bool   // Skip certificate verification (not recommended)
	TLSCACertFile      string // Path to CA certificate bundle (PEM)
}

// URL returns the ldap:// or ldaps:// URL for the configured server.
func (c *ConnectionConfig) URL() string {
	scheme := "ldap"
	if c.UseTLS {
		scheme = "ldaps"
	}

	port := c.Port
	if port == 0 {
		port = DefaultPort
		if c.UseTLS {
			port = DefaultTLSPort
		}
	}

	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodNone       AuthMethod = iota // No bind, the session stays anonymous
	AuthMethodSimpleBind                   // DN/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodNone:
		return "none"
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
// A simple bind needs both a DN and a password; either one alone means no bind.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	// Kerberos authentication takes precedence
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.BindDN != "") {
		return AuthMethodKerberos
	}

	if c.BindDN != "" && c.Password != "" {
		return AuthMethodSimpleBind
	}

	return AuthMethodNone
}

// HasAuthentication checks if any authentication method is configured.
func (c *ConnectionConfig) HasAuthentication() bool {
	return c.GetAuthMethod() != AuthMethodNone
}

// ConnectionError reports that no session could be established.
type ConnectionError struct {
	message   string
	transient bool // Dial or network failure rather than bad configuration
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a connection error. transient marks failures
// that a later run may not hit, such as a refused or timed out dial.
func NewConnectionError(message string, transient bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		transient: transient,
		cause:     cause,
	}
}

// AddStatus is the outcome of submitting one entry.
type AddStatus int

const (
	AddStatusAdded    AddStatus = iota // The server created the entry
	AddStatusRejected                  // The server or transport refused the entry
)

// String returns string representation of the add status.
func (s AddStatus) String() string {
	switch s {
	case AddStatusAdded:
		return "added"
	case AddStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// AddResult describes the outcome of one add operation.
type AddResult struct {
	Status AddStatus
	Code   uint16 // LDAP result code, 0 on success
	Detail string // Rendered server result, suitable for the run summary
}

// Added reports whether the entry was created.
func (r AddResult) Added() bool {
	return r.Status == AddStatusAdded
}
