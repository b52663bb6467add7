package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var defaultParticipants = []string{"Jonny", "Roz", "Jack", "Oscar", "Rowan", "Ross", "Hannah"}

type Config struct {
	bind         string
	collection   string
	database     string
	databaseType string
	envFile      string
	participants []string
	passphrase   string
	port         int
	prefix       string
	profile      bool
	tlsCert      string
	tlsKey       string
	verbose      bool
	version      bool

	roster *Roster
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.passphrase == "" {
		return errors.New("--passphrase is required")
	}
	if strings.TrimSpace(c.collection) == "" {
		return errors.New("--collection must not be empty")
	}
	switch c.databaseType {
	case databaseSQLite, databasePostgres:
	default:
		return fmt.Errorf("invalid database type (must be %q or %q): %q", databaseSQLite, databasePostgres, c.databaseType)
	}
	if c.database == "" {
		return errors.New("--database must not be empty")
	}

	roster, err := NewRoster(c.participants)
	if err != nil {
		return fmt.Errorf("invalid participants: %w", err)
	}
	c.roster = roster

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// loadEnvFile populates the process environment from a dotenv file. A missing
// default file is not an error; a missing explicitly named one is.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}

	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// applyEnv fills every flag not set on the command line from its GIFTBOX_*
// environment variable.
func applyEnv(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if f.Changed || !v.IsSet(f.Name) {
			return
		}

		value := v.GetString(f.Name)
		if f.Value.Type() == "stringSlice" {
			// Set appends after the first call, so start from a clean slice.
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				if err := sv.Replace(splitList(value)); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
				}
				return
			}
		}

		if err := fs.Set(f.Name, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
		}
	})

	return errors.Join(errs...)
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("GIFTBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "giftbox",
		Short:         "Secret gift exchange name assignment, one family member at a time.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			if err := loadEnvFile(cfg.envFile, fs.Changed("env-file")); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			return applyEnv(v, fs)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: GIFTBOX_BIND)")
	fs.StringVar(&cfg.collection, "collection", "wilder", "name of the document collection holding assignments (env: GIFTBOX_COLLECTION)")
	fs.StringVarP(&cfg.database, "database", "d", "giftbox.db", "sqlite file path or postgres connection string (env: GIFTBOX_DATABASE)")
	fs.StringVarP(&cfg.databaseType, "database-type", "t", databaseSQLite, "document store backend, sqlite or postgres (env: GIFTBOX_DATABASE_TYPE)")
	fs.StringVar(&cfg.envFile, "env-file", ".env", "dotenv file to load before reading the environment (env: GIFTBOX_ENV_FILE)")
	fs.StringSliceVar(&cfg.participants, "participants", defaultParticipants, "ordered, comma-separated list of participants (env: GIFTBOX_PARTICIPANTS)")
	fs.StringVar(&cfg.passphrase, "passphrase", "", "passphrase used to encrypt stored assignments (env: GIFTBOX_PASSPHRASE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: GIFTBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: GIFTBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: GIFTBOX_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: GIFTBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: GIFTBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: GIFTBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: GIFTBOX_VERSION)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("giftbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
