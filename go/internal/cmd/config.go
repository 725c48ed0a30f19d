package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
)

type Config struct {
	bind           string
	port           int
	store          string
	natsURL        string
	replicateToken string
	replicateURL   string
	model          string
	modelsFile     string
	tickInterval   time.Duration
	votingSeconds  int
	adminUser      string
	adminPass      string
	publicURL      string
	allowedOrigins []string
	verbose        bool
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.store != storeMemory && c.store != storePostgres {
		return fmt.Errorf("invalid store %q (must be %s or %s)", c.store, storeMemory, storePostgres)
	}
	if (c.adminUser == "") != (c.adminPass == "") {
		return errors.New("both --admin-user and --admin-pass must be provided together")
	}
	if c.tickInterval < 0 {
		return fmt.Errorf("invalid tick interval: %s", c.tickInterval)
	}
	if c.votingSeconds < 1 {
		return fmt.Errorf("invalid voting duration: %d", c.votingSeconds)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PROMPTCLASH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "promptclash",
		Short: "Party game server: write prompts, generate images, vote for the best one.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.replicateToken == "" {
				cfg.replicateToken = os.Getenv("REPLICATE_API_TOKEN")
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: PROMPTCLASH_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: PROMPTCLASH_PORT)")
	fs.StringVar(&cfg.store, "store", storeMemory, "state store: memory or postgres (env: PROMPTCLASH_STORE)")
	fs.StringVar(&cfg.natsURL, "nats-url", "", "NATS server for cross-instance events, empty to disable (env: PROMPTCLASH_NATS_URL)")
	fs.StringVar(&cfg.replicateToken, "replicate-token", "", "Replicate API token (env: PROMPTCLASH_REPLICATE_TOKEN or REPLICATE_API_TOKEN)")
	fs.StringVar(&cfg.replicateURL, "replicate-url", "", "Replicate API base URL override (env: PROMPTCLASH_REPLICATE_URL)")
	fs.StringVar(&cfg.model, "model", "", "image model used for rounds, defaults to the catalogue default (env: PROMPTCLASH_MODEL)")
	fs.StringVar(&cfg.modelsFile, "models-file", "", "YAML model catalogue, empty for the built-in one (env: PROMPTCLASH_MODELS_FILE)")
	fs.DurationVar(&cfg.tickInterval, "tick-interval", time.Second, "background timer sweep, 0 to rely on reads only (env: PROMPTCLASH_TICK_INTERVAL)")
	fs.IntVar(&cfg.votingSeconds, "voting-seconds", 120, "length of the voting phase (env: PROMPTCLASH_VOTING_SECONDS)")
	fs.StringVar(&cfg.adminUser, "admin-user", "", "basic auth user for admin routes (env: PROMPTCLASH_ADMIN_USER)")
	fs.StringVar(&cfg.adminPass, "admin-pass", "", "basic auth password for admin routes (env: PROMPTCLASH_ADMIN_PASS)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "base URL used in join QR codes (env: PROMPTCLASH_PUBLIC_URL)")
	fs.StringSliceVar(&cfg.allowedOrigins, "allowed-origins", []string{"*"}, "CORS allowed origins (env: PROMPTCLASH_ALLOWED_ORIGINS)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: PROMPTCLASH_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
