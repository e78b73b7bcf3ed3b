// Package logging installs the tflog root logger and the subsystems used by
// the importer.
package logging

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
)

const (
	SubsystemLDIF   = "ldif"
	SubsystemLDAP   = "ldap"
	SubsystemImport = "import"

	// EnvPrefix selects a per-subsystem level, e.g. LDIFIMPORT_LOG_LDAP=trace.
	EnvPrefix = "LDIFIMPORT_LOG"

	rootLoggerName = "ldifimport"
)

// Subsystems lists every subsystem created by WithSubsystems.
var Subsystems = []string{SubsystemLDIF, SubsystemLDAP, SubsystemImport}

// maskedFieldKeys never have their values written to the log.
var maskedFieldKeys = []string{"password", "bind_password", "kerberos_password"}

// NewRootContext installs a root logger writing JSON lines to the process's
// stderr at level.
func NewRootContext(ctx context.Context, level string) (context.Context, error) {
	hcLevel := hclog.LevelFromString(level)
	if hcLevel == hclog.NoLevel {
		return ctx, fmt.Errorf("unknown log level %q (use trace, debug, info, warn, error or off)", level)
	}

	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName(rootLoggerName),
		tfsdklog.WithLevel(hcLevel),
		tfsdklog.WithStderrFromInit(),
	)

	return WithSubsystems(ctx), nil
}

// WithSubsystems creates the importer subsystems on ctx. Each subsystem's
// level can be raised or lowered with EnvPrefix_<SUBSYSTEM>.
func WithSubsystems(ctx context.Context) context.Context {
	for _, subsystem := range Subsystems {
		ctx = tflog.NewSubsystem(ctx, subsystem,
			tflog.WithLevelFromEnv(EnvPrefix, strings.ToUpper(subsystem)))
		ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, subsystem, maskedFieldKeys...)
	}

	return tflog.MaskFieldValuesWithFieldKeys(ctx, maskedFieldKeys...)
}
