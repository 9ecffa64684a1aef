// Package cli implements the rmap command-line interface. The tool is a
// single command: everything before "--" belongs to rmap (flags and
// target specifications), everything after it is forwarded to nmap
// verbatim.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/rmap/internal"
	"github.com/anstrom/rmap/internal/config"
	rmaperrors "github.com/anstrom/rmap/internal/errors"
	"github.com/anstrom/rmap/internal/logging"
)

var (
	cfgFile      string
	verbose      bool
	outputFormat string
	outputPath   string
	nmapPath     string
	privileged   bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "rmap [flags] [target ...] [-- nmap-flag ...]",
	Short: "Stream nmap results as JSON Lines, CSV, YAML, or a table",
	Long: `rmap runs nmap with XML output forced onto stdout, decodes the stream
incrementally while the scan is still running, and re-emits one record
per discovered (host, port, service) tuple in a pipe-friendly format.

Targets may be hosts, CIDR ranges, files of targets, or "-" to read
targets from stdin (the default). Flags after "--" are passed to nmap
unchanged.`,
	Example: `  rmap 192.168.1.0/24 -- -sV -T4
  mapcidr -cidr 10.0.0.0/16 | rmap -f jsonl -- --top-ports 100
  rmap -f csv -o results.csv targets.txt
  rmap scanme.nmap.org -- -p 22,80,443`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

// Execute runs the root command and exits with the code documented for
// the failure class.
func Execute() {
	catchSIGPIPE()

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rmap:", err)
		os.Exit(rmaperrors.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.Flags().StringVarP(&outputFormat, "format", "f", config.FormatAuto,
		"output format: auto, jsonl, csv, yaml, table")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "",
		"write records to file instead of stdout")
	rootCmd.Flags().StringVar(&nmapPath, "nmap-path", "",
		"path to the nmap binary (default from config or PATH)")
	rootCmd.Flags().BoolVar(&privileged, "privileged", true,
		"run nmap with --privileged and preflight raw socket capability")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// catchSIGPIPE subscribes to SIGPIPE so that a write to a closed stdout
// pipe fails with EPIPE instead of killing the process. Without a
// subscription the runtime treats SIGPIPE on the standard descriptors
// as fatal, and the closed sink would never reach its documented exit
// code. The channel is buffered and never drained; delivery of the
// signal itself carries no information beyond the failed write.
func catchSIGPIPE() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGPIPE)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// runRoot assembles the pipeline options and runs the scan.
func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	targetSpecs, passthrough := splitArgs(cmd, args)
	if len(targetSpecs) == 0 {
		targetSpecs = []string{"-"}
	}

	format := resolveFormat(cfg.Output.Format, cfg.Output.Path, stdoutIsTerminal())

	out, cleanup, err := openOutput(cfg.Output.Path)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Live progress only when a human is watching stderr; a redirected
	// stderr gets the structured logs alone.
	var progress io.Writer
	if stderrIsTerminal() {
		progress = os.Stderr
	}

	return internal.Run(ctx, internal.RunOptions{
		Config:      cfg,
		Targets:     targetSpecs,
		Passthrough: passthrough,
		Format:      format,
		Output:      out,
		Stdin:       os.Stdin,
		Progress:    progress,
	})
}

// loadConfig merges the config file with command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, rmaperrors.Wrap(rmaperrors.CodeConfiguration, "failed to load configuration", err)
	}

	if cmd.Flags().Changed("format") || cfg.Output.Format == "" {
		cfg.Output.Format = outputFormat
	}
	if cmd.Flags().Changed("output") {
		cfg.Output.Path = outputPath
	}
	if nmapPath != "" {
		cfg.Nmap.Path = nmapPath
	}
	if cmd.Flags().Changed("privileged") {
		cfg.Nmap.Privileged = privileged
	}

	if err := cfg.Validate(); err != nil {
		return nil, rmaperrors.Wrap(rmaperrors.CodeConfiguration, "invalid configuration", err)
	}
	return cfg, nil
}

// splitArgs separates target specifications from nmap passthrough flags
// using cobra's "--" marker.
func splitArgs(cmd *cobra.Command, args []string) (targetSpecs, passthrough []string) {
	at := cmd.ArgsLenAtDash()
	if at < 0 {
		return args, nil
	}
	return args[:at], args[at:]
}

// openOutput returns the record sink and a cleanup function.
func openOutput(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, rmaperrors.Wrap(rmaperrors.CodeConfiguration, "failed to create output file", err)
	}
	return file, func() { _ = file.Close() }, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.Logging
	if viper.GetBool("verbose") && logConfig.Level != logging.LevelDebug {
		logConfig.Level = logging.LevelInfo
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)
}
