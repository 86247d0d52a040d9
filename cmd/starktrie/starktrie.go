package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/NethermindEth/starktrie/core/state"
	"github.com/NethermindEth/starktrie/node"
	"github.com/NethermindEth/starktrie/utils"
	"github.com/mitchellh/mapstructure"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version string

const (
	configF        = "config"
	logLevelF      = "log-level"
	colourF        = "colour"
	dbPathF        = "db-path"
	dbCacheSizeF   = "db-cache-size"
	dbMaxHandlesF  = "db-max-handles"
	nodeCacheSizeF = "node-cache-size"
	retentionF     = "retention"
	pruneIntervalF = "prune-interval"
	proofKeyLimitF = "proof-key-limit"
	proofWorkersF  = "proof-workers"
	metricsF       = "metrics"
	metricsHostF   = "metrics-host"
	metricsPortF   = "metrics-port"
	feedF          = "feed"

	configFlagUsage    = "The YAML configuration file."
	logLevelFlagUsage  = "Options: debug, info, warn, error."
	colourUsage        = "Use `--colour=false` command to disable colourized outputs (ANSI Escape Codes)."
	dbPathUsage        = "Location of the database files. An empty path keeps the database in memory."
	dbCacheSizeUsage   = "Determines the amount of memory (in megabytes) allocated for caching data in the database."
	dbMaxHandlesUsage  = "A soft limit on the number of open files that can be used by the DB"
	nodeCacheUsage     = "Number of decoded trie nodes kept in memory. Zero uses the default."
	retentionUsage     = "Number of most recent blocks that stay provable. Zero keeps every block."
	pruneIntervalUsage = "How often heights that fell out of the retention window are pruned. " +
		"Zero prunes only after each applied block."
	proofKeyLimitUsage = "Maximum number of storage keys accepted by a single proof request."
	proofWorkersUsage  = "Number of storage proofs built concurrently per request. Zero uses the number of CPUs."
	metricsUsage       = "Enables the Prometheus metrics endpoint."
	metricsHostUsage   = "The interface on which the metrics endpoint will listen for requests."
	metricsPortUsage   = "The port on which the metrics endpoint will listen for requests."
	feedUsage          = "File of block updates to apply, as a JSON array or one JSON object per line. " +
		"Use - to read standard input."
)

func NewCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "starktrie [flags]",
		Short:         "Starknet state tries: commitments, history and proofs.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := node.DefaultConfig()
	logLevel := defaults.LogLevel
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, configF, "", configFlagUsage)
	flags.Var(&logLevel, logLevelF, logLevelFlagUsage)
	flags.Bool(colourF, defaults.Colour, colourUsage)
	flags.String(dbPathF, defaults.DatabasePath, dbPathUsage)
	flags.Uint(dbCacheSizeF, defaults.DBCacheSize, dbCacheSizeUsage)
	flags.Int(dbMaxHandlesF, defaults.DBMaxHandles, dbMaxHandlesUsage)
	flags.Int(nodeCacheSizeF, defaults.NodeCacheSize, nodeCacheUsage)
	flags.Uint64(retentionF, defaults.Retention, retentionUsage)
	flags.Duration(pruneIntervalF, defaults.PruneInterval, pruneIntervalUsage)
	flags.Uint64(proofKeyLimitF, defaults.ProofKeyLimit, proofKeyLimitUsage)
	flags.Int(proofWorkersF, defaults.ProofWorkers, proofWorkersUsage)
	cmd.Flags().Bool(metricsF, defaults.Metrics, metricsUsage)
	cmd.Flags().String(metricsHostF, defaults.MetricsHost, metricsHostUsage)
	cmd.Flags().Uint16(metricsPortF, defaults.MetricsPort, metricsPortUsage)
	cmd.Flags().String(feedF, "", feedUsage)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, cfgFile)
		if err != nil {
			return err
		}
		n, err := node.New(cfg)
		if err != nil {
			return err
		}

		feedPath, err := cmd.Flags().GetString(feedF)
		if err != nil {
			return err
		}
		if feedPath == "" {
			return n.Run(cmd.Context(), nil)
		}

		r, err := openFeed(cmd, feedPath)
		if err != nil {
			return utils.RunAndWrapOnError(n.Close, err)
		}
		defer r.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		updates := make(chan *state.BlockUpdate)
		var (
			wg      conc.WaitGroup
			feedErr error
		)
		wg.Go(func() {
			feedErr = readFeed(ctx, r, updates)
		})
		runErr := n.Run(ctx, updates)
		cancel()
		wg.Wait()
		if runErr != nil {
			return runErr
		}
		if errors.Is(feedErr, context.Canceled) {
			return nil
		}
		return feedErr
	}

	cmd.AddCommand(
		newApplyCmd(&cfgFile),
		newProofCmd(&cfgFile),
		newVerifyCmd(),
		newPruneCmd(&cfgFile),
		newStatsCmd(&cfgFile),
	)
	return cmd
}

// loadConfig merges, in increasing precedence, the defaults, the config file and the flags set
// on the command line.
func loadConfig(cmd *cobra.Command, cfgFile string) (*node.Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	cfg := node.DefaultConfig()
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// openNode opens the configured database for a one-shot subcommand.
func openNode(cmd *cobra.Command, cfgFile string) (*node.Node, error) {
	cfg, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return nil, err
	}
	// Subcommands never serve metrics and never leave the pruner running.
	cfg.Metrics = false
	cfg.PruneInterval = 0
	return node.New(cfg)
}

func openFeed(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(path)
}
