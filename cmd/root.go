package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags for `attrsim eval`
	configPath string        // Simulation config file (YAML)
	specText   string        // Single interpolator spec, instead of a config file
	token      string        // X-Auth-Token for context broker queries; overrides the config
	seed       int64         // Seed for probabilistic text rotation; overrides the config
	stateDB    string        // SQLite file holding global variables across runs; overrides the config
	logLevel   string        // Log verbosity level
	startAt    string        // RFC 3339 wall-clock instant of the first tick
	duration   time.Duration // Simulated time covered by the run
	step       time.Duration // Simulated time between ticks
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "attrsim",
	Short: "Simulator of time-varying entity attribute values",
}

// evalCmd evaluates interpolators over a range of ticks and prints the values
var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate attribute interpolators over a range of ticks",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		opts, err := evalOptionsFromFlags(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := runEval(cmd.Context(), cmd.OutOrStdout(), opts); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	evalCmd.Flags().StringVar(&configPath, "config", "", "Simulation config file (YAML)")
	evalCmd.Flags().StringVar(&specText, "spec", "", "Single interpolator spec, e.g. 'linear-interpolator([[0,0],[60,100]])'")
	evalCmd.Flags().StringVar(&token, "token", "", "X-Auth-Token for context broker queries (overrides config)")
	evalCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for probabilistic text rotation (overrides config when set)")
	evalCmd.Flags().StringVar(&stateDB, "state-db", "", "SQLite file persisting global variables across runs (overrides config)")
	evalCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	evalCmd.Flags().StringVar(&startAt, "start", "", "Wall-clock instant of the first tick, RFC 3339 (default now)")
	evalCmd.Flags().DurationVar(&duration, "duration", time.Minute, "Simulated time covered by the run")
	evalCmd.Flags().DurationVar(&step, "step", 10*time.Second, "Simulated time between ticks")

	rootCmd.AddCommand(evalCmd)
}
