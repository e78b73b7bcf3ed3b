// Package importer streams LDIF entries from a source into a directory
// session and accounts for every outcome.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldifimport/internal/config"
	"github.com/isometry/ldifimport/internal/ldap"
	"github.com/isometry/ldifimport/internal/ldif"
	"github.com/isometry/ldifimport/internal/logging"
)

const subsystem = logging.SubsystemImport

// Source yields decoded entries. Next follows the ldif.Decoder contract:
// io.EOF at the end, a *ldif.DecodeError for malformed records.
type Source interface {
	Next() (*ldif.Entry, error)
	Close() error
}

// Session applies entries to a directory.
type Session interface {
	BindWithConfig(ctx context.Context) error
	AddEntry(ctx context.Context, entry *ldif.Entry) ldap.AddResult
	Close() error
}

// OpenFunc opens the LDIF source named by cfg.
type OpenFunc func(ctx context.Context, cfg *config.ImportConfig) (Source, error)

// ConnectFunc establishes an unauthenticated directory session.
type ConnectFunc func(ctx context.Context, cfg *ldap.ConnectionConfig) (Session, error)

// Option configures a Driver.
type Option func(*Driver)

// WithOpener replaces the LDIF file opener.
func WithOpener(open OpenFunc) Option {
	return func(d *Driver) {
		if open != nil {
			d.open = open
		}
	}
}

// WithConnector replaces the directory connector.
func WithConnector(connect ConnectFunc) Option {
	return func(d *Driver) {
		if connect != nil {
			d.connect = connect
		}
	}
}

// Driver runs imports. A Driver holds no per-run state and may be reused.
type Driver struct {
	open    OpenFunc
	connect ConnectFunc
}

// NewDriver returns a Driver reading LDIF files and writing through go-ldap
// unless overridden by opts.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		open:    openDecoder,
		connect: connectSession,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func openDecoder(ctx context.Context, cfg *config.ImportConfig) (Source, error) {
	decoder, err := ldif.Open(cfg.SourcePath,
		ldif.WithContext(ctx),
		ldif.WithMaxLineLength(cfg.MaxLineLength),
	)
	if err != nil {
		return nil, err
	}
	return decoder, nil
}

func connectSession(ctx context.Context, cfg *ldap.ConnectionConfig) (Session, error) {
	session, err := ldap.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Run imports every entry of cfg.SourcePath. cfg must have been validated.
//
// Open and connect failures end the run before any entry is read. A failed
// bind is counted and the run continues unauthenticated. The source is
// closed exactly once on every exit path. A panic while applying an entry
// finishes the run as aborted before it propagates.
func (d *Driver) Run(ctx context.Context, cfg *config.ImportConfig) *Result {
	start := time.Now()
	result := newResult(uuid.NewString(), cfg.MaxResultDetails)
	status := StatusRunning

	ctx = tflog.SubsystemSetField(ctx, subsystem, "run_id", result.RunID)
	tflog.SubsystemInfo(ctx, subsystem, "Starting LDIF import", cfg.LogFields())

	defer func() {
		r := recover()
		if r != nil {
			tflog.SubsystemError(ctx, subsystem, "Import panicked", map[string]any{
				"panic":        fmt.Sprint(r),
				"entries_read": result.Stats.EntriesRead,
			})
			result.appendDetail(fmt.Sprintf("import aborted after %d entries: %v", result.Stats.EntriesRead, r))
			status = StatusAborted
		}

		result.finish(status, time.Since(start))

		fields := result.Stats.Fields()
		fields["status"] = string(status)
		fields["duration_ms"] = result.Duration.Milliseconds()
		tflog.SubsystemInfo(ctx, subsystem, "LDIF import finished", fields)

		if r != nil {
			panic(r)
		}
	}()

	source, err := d.open(ctx, cfg)
	if err != nil {
		tflog.SubsystemError(ctx, subsystem, "Failed to open LDIF source", map[string]any{
			"source": cfg.SourcePath,
			"error":  err.Error(),
		})
		result.setupFailed(kindOpen, openErrorDetail(cfg.SourcePath, err))
		status = StatusSourceUnavailable
		return result
	}
	defer closeSource(ctx, source)

	connCfg := cfg.ConnectionConfig()
	session, err := d.connect(ctx, connCfg)
	if err != nil {
		tflog.SubsystemError(ctx, subsystem, "Failed to connect to directory", map[string]any{
			"url":            connCfg.URL(),
			"error":          err.Error(),
			"error_category": string(ldap.CategoryOf(err)),
			"transient":      ldap.IsTransient(err),
		})
		result.setupFailed(kindConnect, err.Error())
		status = StatusConnectFailed
		return result
	}
	defer closeSession(ctx, session)

	if connCfg.HasAuthentication() {
		if err := session.BindWithConfig(ctx); err != nil {
			tflog.SubsystemWarn(ctx, subsystem, "Bind failed, continuing without authentication", map[string]any{
				"auth_method":    connCfg.GetAuthMethod().String(),
				"bind_dn":        connCfg.BindDN,
				"error":          err.Error(),
				"error_category": string(ldap.CategoryOf(err)),
				"transient":      ldap.IsTransient(err),
			})
			result.setupFailed(kindBind, "")
		}
	}

	status = d.importEntries(ctx, source, session, result)
	return result
}

// importEntries pulls records until the source ends, fails fatally or ctx is
// cancelled, and returns the resulting status.
func (d *Driver) importEntries(ctx context.Context, source Source, session Session, result *Result) Status {
	for {
		if err := ctx.Err(); err != nil {
			tflog.SubsystemWarn(ctx, subsystem, "Import cancelled", map[string]any{
				"entries_read": result.Stats.EntriesRead,
				"error":        err.Error(),
			})
			result.appendDetail(fmt.Sprintf("import cancelled after %d entries: %v", result.Stats.EntriesRead, err))
			return StatusCancelled
		}

		entry, err := source.Next()

		switch ldif.Classify(err) {
		case ldif.OutcomeEntry:
			result.entryRead()
			outcome := session.AddEntry(ctx, entry)
			if outcome.Added() {
				result.entryAdded(outcome.Detail)
			} else {
				result.entryRejected(outcome.Detail)
			}

		case ldif.OutcomeRecoverable:
			result.recoverableError()

		case ldif.OutcomeFatal:
			result.fatalError(err.Error())
			return StatusAborted

		case ldif.OutcomeEnd:
			return StatusCompleted
		}
	}
}

func openErrorDetail(path string, err error) string {
	var openErr *ldif.OpenError
	if errors.As(err, &openErr) {
		return openErr.Error()
	}
	return (&ldif.OpenError{Path: path, Err: err}).Error()
}

func closeSource(ctx context.Context, source Source) {
	if source == nil {
		return
	}
	if err := source.Close(); err != nil {
		tflog.SubsystemWarn(ctx, subsystem, "Failed to close LDIF source", map[string]any{
			"error": err.Error(),
		})
	}
}

func closeSession(ctx context.Context, session Session) {
	if session == nil {
		return
	}
	if err := session.Close(); err != nil {
		tflog.SubsystemWarn(ctx, subsystem, "Failed to close directory session", map[string]any{
			"error": err.Error(),
		})
	}
}
