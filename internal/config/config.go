// Package config turns loosely typed key/value settings into a validated
// ImportConfig.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/isometry/ldifimport/internal/ldap"
)

// Keys recognised in a configuration source.
const (
	KeyEndpoint           = "endpoint"
	KeyBindDN             = "bindDn"
	KeyPassword           = "password"
	KeyFile               = "file"
	KeyUseTLS             = "useTls"
	KeyStartTLS           = "startTls"
	KeyInsecureSkipVerify = "insecureSkipVerify"
	KeyCACertFile         = "caCertFile"
	KeyTimeout            = "timeout"
	KeyKerberosRealm      = "kerberosRealm"
	KeyKerberosKeytab     = "kerberosKeytab"
	KeyKerberosConfig     = "kerberosConfig"
	KeyKerberosCCache     = "kerberosCcache"
	KeyKerberosSPN        = "kerberosSpn"
	KeyMaxResultDetails   = "maxResultDetails"
	KeyMaxLineLength      = "maxLineLength"
)

// Keys lists every recognised key.
var Keys = []string{
	KeyEndpoint,
	KeyBindDN,
	KeyPassword,
	KeyFile,
	KeyUseTLS,
	KeyStartTLS,
	KeyInsecureSkipVerify,
	KeyCACertFile,
	KeyTimeout,
	KeyKerberosRealm,
	KeyKerberosKeytab,
	KeyKerberosConfig,
	KeyKerberosCCache,
	KeyKerberosSPN,
	KeyMaxResultDetails,
	KeyMaxLineLength,
}

// ErrInvalid is wrapped by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Error reports a single invalid or missing setting.
type Error struct {
	Field  string // Configuration key
	Reason string // Human-readable reason
	Err    error  // Underlying parse error, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalid, e.Err}
	}
	return []error{ErrInvalid}
}

// ImportConfig is the validated configuration of one import run.
// Empty BindDN or Password means the credential is absent.
type ImportConfig struct {
	Host       string `validate:"required"`
	Port       int    `validate:"min=1,max=65535"`
	BindDN     string
	Password   string
	SourcePath string `validate:"required"`

	UseTLS             bool
	StartTLS           bool `validate:"excluded_with=UseTLS"`
	InsecureSkipVerify bool
	CACertFile         string        `validate:"omitempty,file"`
	Timeout            time.Duration `default:"30s" validate:"gt=0s"`

	KerberosRealm  string
	KerberosKeytab string `validate:"omitempty,file"`
	KerberosConfig string `validate:"omitempty,file"`
	KerberosCCache string
	KerberosSPN    string

	MaxResultDetails int `validate:"min=0"`
	MaxLineLength    int `default:"1048576" validate:"gt=0"`
}

// fieldKeys maps struct fields back to the key a user sets.
var fieldKeys = map[string]string{
	"Host":               KeyEndpoint,
	"Port":               KeyEndpoint,
	"BindDN":             KeyBindDN,
	"Password":           KeyPassword,
	"SourcePath":         KeyFile,
	"UseTLS":             KeyUseTLS,
	"StartTLS":           KeyStartTLS,
	"InsecureSkipVerify": KeyInsecureSkipVerify,
	"CACertFile":         KeyCACertFile,
	"Timeout":            KeyTimeout,
	"KerberosRealm":      KeyKerberosRealm,
	"KerberosKeytab":     KeyKerberosKeytab,
	"KerberosConfig":     KeyKerberosConfig,
	"KerberosCCache":     KeyKerberosCCache,
	"KerberosSPN":        KeyKerberosSPN,
	"MaxResultDetails":   KeyMaxResultDetails,
	"MaxLineLength":      KeyMaxLineLength,
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New returns an ImportConfig with defaults applied.
func New() (*ImportConfig, error) {
	cfg := &ImportConfig{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	return cfg, nil
}

// FromValues builds and validates an ImportConfig from string settings.
// Keys are matched case-insensitively; unknown keys are ignored.
func FromValues(values map[string]string) (*ImportConfig, error) {
	cfg, err := New()
	if err != nil {
		return nil, err
	}

	get := lookup(values)

	endpoint, ok := get(KeyEndpoint)
	if !ok || strings.TrimSpace(endpoint) == "" {
		return nil, &Error{Field: KeyEndpoint, Reason: "is required"}
	}
	if cfg.Host, cfg.Port, err = splitEndpoint(endpoint); err != nil {
		return nil, err
	}

	cfg.BindDN, _ = get(KeyBindDN)
	cfg.Password, _ = get(KeyPassword)

	cfg.SourcePath, _ = get(KeyFile)
	if strings.TrimSpace(cfg.SourcePath) == "" {
		return nil, &Error{Field: KeyFile, Reason: "is required"}
	}

	cfg.CACertFile, _ = get(KeyCACertFile)
	cfg.KerberosRealm, _ = get(KeyKerberosRealm)
	cfg.KerberosKeytab, _ = get(KeyKerberosKeytab)
	cfg.KerberosConfig, _ = get(KeyKerberosConfig)
	cfg.KerberosCCache, _ = get(KeyKerberosCCache)
	cfg.KerberosSPN, _ = get(KeyKerberosSPN)

	for key, dst := range map[string]*bool{
		KeyUseTLS:             &cfg.UseTLS,
		KeyStartTLS:           &cfg.StartTLS,
		KeyInsecureSkipVerify: &cfg.InsecureSkipVerify,
	} {
		if raw, ok := get(key); ok && raw != "" {
			if *dst, err = strconv.ParseBool(raw); err != nil {
				return nil, &Error{Field: key, Reason: "must be a boolean", Err: err}
			}
		}
	}

	for key, dst := range map[string]*int{
		KeyMaxResultDetails: &cfg.MaxResultDetails,
		KeyMaxLineLength:    &cfg.MaxLineLength,
	} {
		if raw, ok := get(key); ok && raw != "" {
			if *dst, err = strconv.Atoi(raw); err != nil {
				return nil, &Error{Field: key, Reason: "must be an integer", Err: err}
			}
		}
	}

	if raw, ok := get(KeyTimeout); ok && raw != "" {
		if cfg.Timeout, err = time.ParseDuration(raw); err != nil {
			return nil, &Error{Field: KeyTimeout, Reason: "must be a duration such as 30s", Err: err}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads every known key that is set in v and builds the configuration.
func Load(v *viper.Viper) (*ImportConfig, error) {
	values := make(map[string]string, len(Keys))
	for _, key := range Keys {
		if v.IsSet(key) {
			values[key] = v.GetString(key)
		}
	}
	return FromValues(values)
}

// Validate checks struct constraints. The first violation is returned as *Error.
func (c *ImportConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		fe := validationErrors[0]
		field, ok := fieldKeys[fe.StructField()]
		if !ok {
			field = fe.StructField()
		}
		return &Error{Field: field, Reason: reason(fe)}
	}

	return &Error{Field: "config", Reason: "failed validation", Err: err}
}

// reason returns a user-friendly message for a validation failure.
func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "max":
		if fe.StructField() == "Port" {
			return "port must be between 1 and 65535"
		}
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	case "gt":
		return "must be greater than zero"
	case "file":
		return fmt.Sprintf("file %q does not exist", fe.Value())
	case "excluded_with":
		return "cannot be combined with " + KeyUseTLS
	}

	return "failed " + fe.Tag() + " validation"
}

// splitEndpoint splits host:port on the first colon.
func splitEndpoint(endpoint string) (string, int, error) {
	host, rawPort, found := strings.Cut(strings.TrimSpace(endpoint), ":")
	if !found || host == "" {
		return "", 0, &Error{Field: KeyEndpoint, Reason: fmt.Sprintf("%q must have the form host:port", endpoint)}
	}

	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return "", 0, &Error{Field: KeyEndpoint, Reason: fmt.Sprintf("port %q is not a number", rawPort)}
	}

	if port < 1 || port > 65535 {
		return "", 0, &Error{Field: KeyEndpoint, Reason: "port must be between 1 and 65535"}
	}

	return host, port, nil
}

// lookup returns a case-insensitive getter over values.
func lookup(values map[string]string) func(string) (string, bool) {
	folded := make(map[string]string, len(values))
	for k, v := range values {
		folded[strings.ToLower(k)] = v
	}
	return func(key string) (string, bool) {
		v, ok := folded[strings.ToLower(key)]
		return v, ok
	}
}

// HasCredentials reports whether both bind DN and password are present.
func (c *ImportConfig) HasCredentials() bool {
	return c.BindDN != "" && c.Password != ""
}

// ConnectionConfig returns the directory session settings.
func (c *ImportConfig) ConnectionConfig() *ldap.ConnectionConfig {
	return &ldap.ConnectionConfig{
		Host:               c.Host,
		Port:               c.Port,
		Timeout:            c.Timeout,
		BindDN:             c.BindDN,
		Password:           c.Password,
		KerberosRealm:      c.KerberosRealm,
		KerberosKeytab:     c.KerberosKeytab,
		KerberosConfig:     c.KerberosConfig,
		KerberosCCache:     c.KerberosCCache,
		KerberosSPN:        c.KerberosSPN,
		UseTLS:             c.UseTLS,
		StartTLS:           c.StartTLS,
		InsecureSkipVerify: c.InsecureSkipVerify,
		TLSCACertFile:      c.CACertFile,
	}
}

// LogFields returns the configuration as log fields with secrets redacted.
func (c *ImportConfig) LogFields() map[string]any {
	fields := map[string]any{
		"host":               c.Host,
		"port":               c.Port,
		"bind_dn":            c.BindDN,
		"simple_bind":        c.HasCredentials(),
		"source":             c.SourcePath,
		"use_tls":            c.UseTLS,
		"start_tls":          c.StartTLS,
		"timeout":            c.Timeout.String(),
		"kerberos_realm":     c.KerberosRealm,
		"max_result_details": c.MaxResultDetails,
	}
	if c.Password != "" {
		fields["password"] = c.Password
	}
	return ldap.SanitizeFields(fields)
}
