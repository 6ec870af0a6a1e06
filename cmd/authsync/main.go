// Command authsync exercises the identity reconciliation client against an
// in-process identity provider and backend.
//
//	authsync config check --config authsync.yaml
//	authsync simulate register|oauth-fallback|conflict|verify
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	authsync "github.com/kshay712/cleenbeez-replit-sub000"
	"github.com/kshay712/cleenbeez-replit-sub000/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globals struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string

	cfg authsync.Config
	log *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "authsync",
		Short:         "Identity reconciliation client tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file (defaults are used when empty)")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "dotenv files loaded before AUTHSYNC_* overrides")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug|info|warn|error (overrides config)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "console", "console or json")

	root.AddCommand(newConfigCmd(g), newSimulateCmd(g))
	return root
}

// load reads dotenv files, the config file and env overrides, then
// initializes logging.
func (g *globals) load() error {
	for _, f := range g.envFiles {
		// missing files are fine; the process env still applies
		_ = godotenv.Load(f)
	}

	if g.configPath != "" {
		cfg, err := authsync.LoadConfig(g.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
	} else {
		g.cfg = authsync.DefaultConfig()
		g.cfg.ApplyEnv()
	}
	if g.logLevel != "" {
		g.cfg.Logging.Level = g.logLevel
	}

	logger.Init(logger.Config{
		Format:      g.logFormat,
		Level:       g.cfg.Logging.Level,
		ServiceName: "authsync",
	})
	g.log = logger.L()
	return nil
}
