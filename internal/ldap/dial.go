package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/go-ldap/ldap/v3"
)

// Conn is the part of a go-ldap connection a Session uses.
type Conn interface {
	Bind(username, password string) error
	Add(req *ldap.AddRequest) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error
	Close() error
}

// DialFunc opens an unauthenticated connection for cfg.
type DialFunc func(ctx context.Context, cfg *ConnectionConfig) (Conn, error)

// goLDAPConn gives *ldap.Conn a Close that reports an error.
type goLDAPConn struct {
	*ldap.Conn
}

func (c goLDAPConn) Close() error {
	c.Conn.Close()
	return nil
}

// Dial connects to the configured server with go-ldap. It dials ldaps://
// when UseTLS is set and otherwise upgrades with StartTLS when requested.
func Dial(ctx context.Context, cfg *ConnectionConfig) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: cfg.Timeout}),
	}
	if cfg.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(cfg.URL(), opts...)
	if err != nil {
		return nil, err
	}

	if cfg.StartTLS && !cfg.UseTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}

	if cfg.Timeout > 0 {
		conn.SetTimeout(cfg.Timeout)
	}

	return goLDAPConn{Conn: conn}, nil
}

// buildTLSConfig loads the optional CA bundle and pins the server name.
func buildTLSConfig(cfg *ConnectionConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in via configuration
	}

	if cfg.TLSCACertFile == "" {
		return tlsConfig, nil
	}

	caCert, err := os.ReadFile(cfg.TLSCACertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("no PEM certificates found in %s", cfg.TLSCACertFile)
	}
	tlsConfig.RootCAs = pool

	return tlsConfig, nil
}
