// totalizer queries aggregated totals and health across every backend
// instance behind a logical fanout name.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/m3047/totalizer/internal/config"
	"github.com/m3047/totalizer/internal/fanout"
	"github.com/m3047/totalizer/internal/logging"
	"github.com/m3047/totalizer/internal/rkv"
)

// Version information (set at build time with -ldflags)
var Version = "dev"

var (
	flagConfig   string
	flagFanout   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:     "totalizer",
	Short:   "Query bucketed event counters across a fanout of backends",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		logging.Init(logging.Config{Level: flagLogLevel, Component: "totalizer"})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "totalizer.yaml", "path to the client configuration")
	rootCmd.PersistentFlags().StringVar(&flagFanout, "fanout", "", "logical fanout name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "debug, info, warn, or error")

	rootCmd.AddCommand(totalCmd)
	rootCmd.AddCommand(healthCmd)
}

// clientSetup resolves the pieces every subcommand needs: configuration,
// fanout engine, and the per-endpoint reader.
func clientSetup() (*config.Client, *fanout.Engine, *rkv.RedisCluster, error) {
	cfg, err := config.LoadClient(flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	if flagFanout != "" {
		cfg.Fanout = flagFanout
	}
	if cfg.Fanout == "" {
		return nil, nil, nil, fmt.Errorf("no fanout name: pass --fanout or set it in %s", flagConfig)
	}

	var resolver fanout.Resolver
	if len(cfg.Targets) > 0 {
		static := make(fanout.Static, len(cfg.Targets))
		for name, endpoints := range cfg.Targets {
			targets := make([]fanout.Endpoint, 0, len(endpoints))
			for _, endpoint := range endpoints {
				targets = append(targets, fanout.Endpoint(endpoint))
			}
			static[name] = targets
		}
		resolver = static
	} else {
		resolver = fanout.NewDNS(5 * time.Minute)
	}

	engine := fanout.NewEngine(resolver, cfg.Timeout())
	reader := rkv.NewRedisCluster(cfg.Redis.StoreConfig())
	return cfg, engine, reader, nil
}

func reportFailures(failures []fanout.Failure) {
	for _, failure := range failures {
		fmt.Fprintf(os.Stderr, "failed: %s: %v\n", failure.Endpoint, failure.Err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
