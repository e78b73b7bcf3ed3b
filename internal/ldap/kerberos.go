package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5ConfPath = "/etc/krb5.conf"

// kerberosSettings is the resolved view of the Kerberos part of a ConnectionConfig.
type kerberosSettings struct {
	principal string
	realm     string
	password  string
	keytab    string
	ccache    string
	krb5conf  string
	spn       string
}

// performKerberosAuth performs a GSSAPI bind on conn.
func performKerberosAuth(ctx context.Context, conn Conn, cfg *ConnectionConfig) error {
	settings, err := resolveKerberosSettings(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(ctx, settings)
	if err != nil {
		logEvent(ctx, "credentials_load_failed", map[string]any{
			"realm": settings.realm,
			"error": err.Error(),
		})
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	logEvent(ctx, "gssapi_bind", map[string]any{
		"principal": settings.principal,
		"realm":     settings.realm,
		"spn":       settings.spn,
	})

	if err := conn.GSSAPIBind(gssapiClient, settings.spn, ""); err != nil {
		logEvent(ctx, "authentication_failed", map[string]any{
			"spn":   settings.spn,
			"error": err.Error(),
		})
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	logEvent(ctx, "ticket_acquired", map[string]any{
		"principal": settings.principal,
		"realm":     settings.realm,
	})

	return nil
}

// resolveKerberosSettings validates cfg without mutating it. A principal of
// the form user@REALM supplies the realm when none is configured.
func resolveKerberosSettings(cfg *ConnectionConfig) (*kerberosSettings, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	s := &kerberosSettings{
		principal: cfg.BindDN,
		realm:     cfg.KerberosRealm,
		password:  cfg.Password,
		krb5conf:  cfg.KerberosConfig,
	}

	if s.krb5conf == "" {
		s.krb5conf = defaultKrb5ConfPath
	}

	if user, realm, found := strings.Cut(s.principal, "@"); found && !strings.Contains(realm, "@") {
		s.principal = user
		if s.realm == "" {
			s.realm = realm
		}
	}

	if s.realm == "" {
		return nil, fmt.Errorf("kerberos realm is required (set kerberosRealm or include realm in the principal)")
	}

	if cfg.KerberosCCache != "" && fileExists(cfg.KerberosCCache) {
		s.ccache = cfg.KerberosCCache
	} else if fileExists(getDefaultCCachePath()) {
		s.ccache = getDefaultCCachePath()
	}

	if cfg.KerberosKeytab != "" && fileExists(cfg.KerberosKeytab) {
		s.keytab = cfg.KerberosKeytab
	} else if s.principal != "" && fileExists(getDefaultKeytabPath()) {
		s.keytab = getDefaultKeytabPath()
	}

	if s.ccache == "" && s.principal == "" {
		return nil, fmt.Errorf("principal is required for Kerberos authentication without a credential cache")
	}

	if s.ccache == "" && s.keytab == "" && s.password == "" {
		return nil, fmt.Errorf("no suitable Kerberos credentials found: provide kerberosCcache, kerberosKeytab, password, or ensure default credential cache/keytab exists")
	}

	spn, err := buildServicePrincipal(cfg)
	if err != nil {
		return nil, err
	}
	s.spn = spn

	return s, nil
}

// createGSSAPIClient creates a GSSAPI client.
// Priority order: credential cache, keytab, password.
func createGSSAPIClient(ctx context.Context, s *kerberosSettings) (ldap.GSSAPIClient, error) {
	if !fileExists(s.krb5conf) {
		return nil, fmt.Errorf("Kerberos configuration file not found at %s; "+
			"create it or set kerberosConfig. Example minimal configuration:\n%s",
			s.krb5conf, generateExampleKrb5Conf(s.realm))
	}

	switch {
	case s.ccache != "":
		logEvent(ctx, "credentials_loaded", map[string]any{"source": "ccache", "path": s.ccache})
		return gssapi.NewClientFromCCache(s.ccache, s.krb5conf, krb5client.DisablePAFXFAST(true))
	case s.keytab != "":
		logEvent(ctx, "credentials_loaded", map[string]any{"source": "keytab", "path": s.keytab})
		return gssapi.NewClientWithKeytab(s.principal, s.realm, s.keytab, s.krb5conf, krb5client.DisablePAFXFAST(true))
	case s.password != "":
		logEvent(ctx, "credentials_loaded", map[string]any{"source": "password"})
		return gssapi.NewClientWithPassword(s.principal, s.realm, s.password, s.krb5conf, krb5client.DisablePAFXFAST(true))
	default:
		return nil, fmt.Errorf("no suitable credentials found for Kerberos authentication")
	}
}

// buildServicePrincipal returns the LDAP service principal, honouring an
// explicit KerberosSPN.
func buildServicePrincipal(cfg *ConnectionConfig) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if cfg.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	return "ldap/" + cfg.Host, nil
}

// getDefaultCCachePath returns the default credential cache location.
func getDefaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// getDefaultKeytabPath returns the default keytab location.
func getDefaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// generateExampleKrb5Conf generates example krb5.conf content for error messages.
func generateExampleKrb5Conf(realm string) string {
	if realm == "" {
		realm = "YOUR.REALM.COM"
	}
	kdcHost := "dc." + strings.ToLower(realm)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_realm = false
    dns_lookup_kdc = false

[realms]
    %s = {
        kdc = %s:88
    }`, realm, realm, kdcHost)
}
