package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/perpboard/internal/config"
	plog "github.com/sawpanic/perpboard/internal/log"
)

const (
	appName = "perpboard"
	version = "v1.0.0"
)

// rootFlags are shared by every subcommand
type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

func (f *rootFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "config/perpboard.yaml", "Path to the YAML configuration file")
	fs.StringVar(&f.envFile, "env-file", ".env", "Dotenv file loaded before the configuration")
	fs.StringVar(&f.logLevel, "log-level", "", "Override logging.level (debug|info|warn|error)")
	fs.StringVar(&f.logFormat, "log-format", "", "Override logging.format (console|json|auto)")
}

// load reads the dotenv file and the configuration. A config file that was
// not named explicitly may be absent.
func (f *rootFlags) load(fs *pflag.FlagSet) (*config.Config, io.Closer, error) {
	if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load %s: %w", f.envFile, err)
	}

	cfg, err := config.Load(f.configPath, !fs.Changed("config"))
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}

	closer, err := plog.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

func main() {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Bybit perpetuals leaderboard service",
		Version: version,
		Long: `perpboard samples Bybit linear perpetuals and keeps ranked tables in memory:
top gainers and losers, volume leaders with a rolling exclusion of the
habitual top-volume assets, and funding rate extremes, each across the
5m, 15m, 1h, 4h and 1d timeframes.

Running without a subcommand is the same as 'perpboard serve'.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags, serveOptions{})
		},
	}
	flags.register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newOnceCmd(flags))
	rootCmd.AddCommand(newConfigCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("perpboard exited with error")
		os.Exit(1)
	}
}
