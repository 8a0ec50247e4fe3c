package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs"
	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

const (
	envConfig   = "LOOSEVFS_CONFIG"
	envLogLevel = "LOOSEVFS_LOG_LEVEL"
)

// globalOptions holds the persistent flags every subcommand shares.
type globalOptions struct {
	config   string
	logLevel string
	verbose  int
	poll     time.Duration
	cacheDir string
}

func newRootCommand() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "loosevfs",
		Short: "Browse and watch loose archives",
		Long: `loosevfs presents directory trees and files scattered on disk as one
archive, following an ordered rule list read from a configuration file.
Rules listed first win where two rules present the same archive path.
Nested archives mount inside their parent at a fixed path.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&g.config, "config", "c", os.Getenv(envConfig), "configuration file (YAML or XML), defaults to $"+envConfig)
	flags.StringVar(&g.logLevel, "log-level", os.Getenv(envLogLevel), "log level: trace, debug, info, warn or error, defaults to $"+envLogLevel)
	flags.CountVarP(&g.verbose, "verbose", "v", "increase log verbosity, overrides --log-level")
	flags.DurationVar(&g.poll, "poll", vfs.DefaultPollInterval, "watch polling interval, 0 follows filesystem events")
	flags.StringVar(&g.cacheDir, "cache-dir", "", "override the configuration's cache directory")

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newLsCommand(g))
	cmd.AddCommand(newCatCommand(g))
	cmd.AddCommand(newStatCommand(g))
	cmd.AddCommand(newURLsCommand(g))
	cmd.AddCommand(newWatchCommand(g))

	return cmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (g *globalOptions) logger(cmd *cobra.Command) (zerolog.Logger, error) {
	level, err := loosevfs.LogLevelFromString(g.logLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", g.logLevel, err)
	}
	if g.verbose > 0 {
		level = loosevfs.LevelForVerbosity(g.verbose)
	}
	return loosevfs.NewLogger(cmd.ErrOrStderr(), level), nil
}

// open loads the configured archive tree.
func (g *globalOptions) open(cmd *cobra.Command) (*loosevfs.System, error) {
	if g.config == "" {
		return nil, errors.New("no configuration file: pass --config or set " + envConfig)
	}
	logger, err := g.logger(cmd)
	if err != nil {
		return nil, err
	}

	opts := []loosevfs.Option{
		loosevfs.WithLogger(logger),
		loosevfs.WithPollInterval(g.poll),
	}
	if g.cacheDir != "" {
		opts = append(opts, loosevfs.WithCacheDir(g.cacheDir))
	}
	sys, err := loosevfs.Open(g.config, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", g.config, err)
	}
	return sys, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  `Print the version number of loosevfs`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "loosevfs version %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
