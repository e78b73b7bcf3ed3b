package ldap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldifimport/internal/ldif"
)

var errNotConnected = errors.New("session is not connected")

// SessionOption configures Connect.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	dial DialFunc
}

// WithDialer replaces the go-ldap dialer, mainly for tests.
func WithDialer(dial DialFunc) SessionOption {
	return func(o *sessionOptions) {
		if dial != nil {
			o.dial = dial
		}
	}
}

// Session is a single directory connection. It performs no retries and is
// not safe for concurrent use.
type Session struct {
	conn       Conn
	config     *ConnectionConfig
	logContext context.Context // Context with configured subsystems for logging
	closed     bool
}

// Connect dials the configured server without authenticating.
func Connect(ctx context.Context, cfg *ConnectionConfig, opts ...SessionOption) (*Session, error) {
	o := &sessionOptions{dial: Dial}
	for _, opt := range opts {
		opt(o)
	}

	if cfg == nil {
		return nil, NewConnectionError("connection configuration is required", false, nil)
	}

	if cfg.Host == "" {
		return nil, NewConnectionError("LDAP host is required", false, nil)
	}

	fields := map[string]any{
		"url":         cfg.URL(),
		"start_tls":   cfg.StartTLS && !cfg.UseTLS,
		"auth_method": cfg.GetAuthMethod().String(),
		"timeout_ms":  cfg.Timeout.Milliseconds(),
	}
	logEvent(ctx, "connection_attempt", fields)

	start := time.Now()
	conn, err := o.dial(ctx, cfg)
	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		connErr := NewConnectionError(fmt.Sprintf("failed to connect to %s", cfg.URL()), IsTransient(err), err)
		fields["error"] = err.Error()
		fields["transient"] = connErr.transient
		logEvent(ctx, "connection_failed", fields)
		return nil, connErr
	}

	logEvent(ctx, "connection_established", fields)

	return &Session{
		conn:       conn,
		config:     cfg,
		logContext: ctx,
	}, nil
}

// Bind performs a simple bind with dn and password.
func (s *Session) Bind(ctx context.Context, dn, password string) error {
	fields := map[string]any{
		"bind_dn":        dn,
		"anonymous_bind": password == "",
	}

	return timed(ctx, "simple_bind", fields, func() error {
		if !s.live() {
			return NewLDAPError("bind", ldap.NewError(ldap.ErrorNetwork, errNotConnected))
		}

		if err := s.conn.Bind(dn, password); err != nil {
			logEvent(ctx, "authentication_failed", map[string]any{"bind_dn": dn})
			ldapErr := NewLDAPError("bind", err)
			ldapErr.DN = dn
			return ldapErr
		}

		logEvent(ctx, "authentication_success", map[string]any{"bind_dn": dn})
		return nil
	})
}

// BindWithConfig authenticates using the method selected by the session's
// configuration. With no credentials configured it leaves the session
// anonymous and returns nil.
func (s *Session) BindWithConfig(ctx context.Context) error {
	authMethod := s.config.GetAuthMethod()

	switch authMethod {
	case AuthMethodNone:
		tflog.SubsystemDebug(ctx, Subsystem, "No authentication configured, session stays anonymous")
		return nil

	case AuthMethodSimpleBind:
		return s.Bind(ctx, s.config.BindDN, s.config.Password)

	case AuthMethodKerberos:
		return timed(ctx, "gssapi_bind", map[string]any{
			"auth_method": authMethod.String(),
			"realm":       s.config.KerberosRealm,
		}, func() error {
			if !s.live() {
				return NewLDAPError("gssapi_bind", ldap.NewError(ldap.ErrorNetwork, errNotConnected))
			}
			if err := performKerberosAuth(ctx, s.conn, s.config); err != nil {
				ldapErr := NewLDAPError("gssapi_bind", err)
				// Kerberos failures carry no result code; treat them as credential problems.
				if ldapErr.Category == ErrorCategoryUnknown {
					ldapErr.Category = ErrorCategoryAuthentication
				}
				return ldapErr
			}
			return nil
		})

	default:
		return fmt.Errorf("unsupported authentication method: %s", authMethod.String())
	}
}

// AddEntry submits entry as a single add request. It never returns an error
// and never panics: every failure is reported as a rejected AddResult.
func (s *Session) AddEntry(ctx context.Context, entry *ldif.Entry) (result AddResult) {
	if entry == nil {
		return AddResult{
			Status: AddStatusRejected,
			Code:   ldap.LDAPResultParamError,
			Detail: "add request has no entry",
		}
	}

	defer func() {
		if r := recover(); r != nil {
			tflog.SubsystemError(ctx, Subsystem, "Recovered from panic during add", map[string]any{
				"dn":    entry.DN,
				"panic": fmt.Sprint(r),
			})
			result = rejected(entry.DN, &LDAPError{
				Operation: "add",
				LDAPCode:  ldap.LDAPResultLocalError,
				Message:   fmt.Sprintf("add aborted: %v", r),
			})
		}
	}()

	if !s.live() {
		return rejected(entry.DN, NewLDAPError("add", ldap.NewError(ldap.ErrorNetwork, errNotConnected)))
	}

	tflog.SubsystemTrace(ctx, Subsystem, "Adding entry", entry.Describe())
	tflog.SubsystemTrace(ctx, Subsystem, "Add request", map[string]any{
		"dn":   entry.DN,
		"ldif": entry.Redacted().LDIF(),
	})

	req := ldap.NewAddRequest(entry.DN, nil)
	for _, attr := range entry.Attributes {
		req.Attribute(attr.Name, attr.Values)
	}

	start := time.Now()
	err := s.conn.Add(req)
	logLatency(ctx, "add", time.Since(start), map[string]any{
		"dn":         entry.DN,
		"attributes": entry.AttributeCount(),
		"values":     entry.ValueCount(),
	})

	if err != nil {
		ldapErr := NewLDAPError("add", err)
		ldapErr.DN = entry.DN
		logRejection(ctx, ldapErr)
		return rejected(entry.DN, ldapErr)
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Entry added", map[string]any{"dn": entry.DN})

	return AddResult{
		Status: AddStatusAdded,
		Code:   ldap.LDAPResultSuccess,
		Detail: formatResult(ldap.LDAPResultSuccess, entry.DN, "", ""),
	}
}

// Close releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	logEvent(s.logContext, "connection_closed", map[string]any{
		"url": s.config.URL(),
	})

	return err
}

func (s *Session) live() bool {
	return s != nil && s.conn != nil && !s.closed
}

// rejected turns an add failure into a rejected AddResult.
func rejected(dn string, ldapErr *LDAPError) AddResult {
	code := ldapErr.LDAPCode
	if code == ldap.LDAPResultSuccess {
		code = ldap.LDAPResultOther
	}

	diagnostic := ldapErr.ServerMsg
	if diagnostic == "" && ldapErr.Cause != nil {
		diagnostic = ldapErr.Cause.Error()
	}
	if diagnostic == "" {
		diagnostic = ldapErr.Message
	}

	return AddResult{
		Status: AddStatusRejected,
		Code:   code,
		Detail: formatResult(code, dn, diagnostic, ldapErr.MatchedDN),
	}
}

// formatResult renders a server result in the summary format, e.g.
// LDAPResult(resultCode=0 (Success), dn='cn=a,dc=example,dc=com').
func formatResult(code uint16, dn, diagnostic, matchedDN string) string {
	detail := fmt.Sprintf("LDAPResult(resultCode=%d (%s), dn='%s'", code, ResultCodeName(code), dn)
	if diagnostic != "" {
		detail += fmt.Sprintf(", diagnosticMessage='%s'", diagnostic)
	}
	if matchedDN != "" {
		detail += fmt.Sprintf(", matchedDN='%s'", matchedDN)
	}
	return detail + ")"
}
