package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/isometry/ldifimport/internal/config"
	"github.com/isometry/ldifimport/internal/importer"
	"github.com/isometry/ldifimport/internal/ldap"
	"github.com/isometry/ldifimport/internal/ldif"
	"github.com/isometry/ldifimport/internal/logging"
)

var version = "dev"

const envPrefix = "LDIFIMPORT"

// Settings that only affect the command, not the import itself.
const (
	keyLogLevel    = "logLevel"
	keyMetricsFile = "metricsFile"
	keyFailOnError = "failOnError"
)

// flagBindings maps each command-line flag to its configuration key.
var flagBindings = []struct {
	flag string
	key  string
}{
	{"endpoint", config.KeyEndpoint},
	{"bind-dn", config.KeyBindDN},
	{"password", config.KeyPassword},
	{"file", config.KeyFile},
	{"use-tls", config.KeyUseTLS},
	{"start-tls", config.KeyStartTLS},
	{"insecure-skip-verify", config.KeyInsecureSkipVerify},
	{"ca-cert-file", config.KeyCACertFile},
	{"timeout", config.KeyTimeout},
	{"kerberos-realm", config.KeyKerberosRealm},
	{"kerberos-keytab", config.KeyKerberosKeytab},
	{"kerberos-config", config.KeyKerberosConfig},
	{"kerberos-ccache", config.KeyKerberosCCache},
	{"kerberos-spn", config.KeyKerberosSPN},
	{"max-result-details", config.KeyMaxResultDetails},
	{"max-line-length", config.KeyMaxLineLength},
	{"log-level", keyLogLevel},
	{"metrics-file", keyMetricsFile},
	{"fail-on-error", keyFailOnError},
}

func newRootCommand(opts ...importer.Option) *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "ldifimport --endpoint host:port --file entries.ldif",
		Short: "Import LDIF entries into an LDAP directory",
		Long: `ldifimport reads an LDIF file one record at a time and adds every entry to an
LDAP directory. Malformed records are skipped and counted; the run stops early only
when the file cannot be read any further.

The result trace is printed to stdout, logs are written to stderr. Every flag can
also be set through the environment (LDIFIMPORT_BIND_DN for --bind-dn) or a
configuration file given with --config.`,
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd, v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, v, importer.NewDriver(opts...))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "configuration file (yaml, toml or json)")

	flags.String("endpoint", "", "directory server as host:port (required)")
	flags.String("bind-dn", "", "DN to bind as; requires --password")
	flags.String("password", "", "bind password")
	flags.String("file", "", "LDIF file to import (required)")
	flags.Bool("use-tls", false, "connect with ldaps://")
	flags.Bool("start-tls", false, "upgrade a plain connection with StartTLS")
	flags.Bool("insecure-skip-verify", false, "skip TLS certificate verification")
	flags.String("ca-cert-file", "", "PEM file with additional CA certificates")
	flags.Duration("timeout", ldap.DefaultTimeout, "dial and request timeout")
	flags.String("kerberos-realm", "", "Kerberos realm; enables GSSAPI bind")
	flags.String("kerberos-keytab", "", "Kerberos keytab file")
	flags.String("kerberos-config", "", "krb5.conf path")
	flags.String("kerberos-ccache", "", "Kerberos credential cache")
	flags.String("kerberos-spn", "", "service principal override (default ldap/<host>)")
	flags.Int("max-result-details", 0, "keep at most this many details in the result (0 keeps all)")
	flags.Int("max-line-length", ldif.DefaultMaxLineLength, "longest physical LDIF line accepted, in bytes")
	flags.String("log-level", "warn", "log level: trace, debug, info, warn, error or off")
	flags.String("metrics-file", "", "write run metrics in Prometheus text format to this file")
	flags.Bool("fail-on-error", false, "exit non-zero if any error was encountered")

	bindFlags(v, flags)

	return cmd
}

// bindFlags makes every flag readable from viper under its configuration
// key, with LDIFIMPORT_<FLAG> as the environment fallback.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer("-", "_")

	for _, b := range flagBindings {
		cobra.CheckErr(v.BindPFlag(b.key, flags.Lookup(b.flag)))
		cobra.CheckErr(v.BindEnv(b.key, envPrefix+"_"+strings.ToUpper(replacer.Replace(b.flag))))
	}
}

func initConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile == "" {
		return nil
	}

	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", v.ConfigFileUsed())
	return nil
}

func runImport(cmd *cobra.Command, v *viper.Viper, driver *importer.Driver) error {
	ctx, err := logging.NewRootContext(cmd.Context(), v.GetString(keyLogLevel))
	if err != nil {
		return err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	result := driver.Run(ctx, cfg)
	fmt.Fprintln(cmd.OutOrStdout(), result.String())

	if path := v.GetString(keyMetricsFile); path != "" {
		if err := result.WriteMetrics(path); err != nil {
			return err
		}
	}

	if !result.Succeeded() {
		return fmt.Errorf("import %s: %d entries read, %d added, %d errors",
			result.Status, result.Stats.EntriesRead, result.Stats.EntriesAdded, result.Stats.ErrorsEncountered)
	}

	if v.GetBool(keyFailOnError) && result.Stats.ErrorsEncountered > 0 {
		return fmt.Errorf("import completed with %d errors", result.Stats.ErrorsEncountered)
	}

	return nil
}
