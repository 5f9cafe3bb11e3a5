package commands

import (
	"errors"
	"io"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/prepared/internal/cli/config"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	e := &env{logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:   "prepared",
		Short: "Inspect and run prepared properties",
		Long: color.CyanString(`prepared - computed properties for resource queries

Properties are declared in a YAML manifest next to the resources they belong
to. Each one either annotates a query with a SQL expression or prefetches a
relation. Requesting a property prepares its dependencies first.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := cmd.Flags().GetString("config-dir")
			if err != nil {
				return err
			}
			cfg, err := config.Load(configDir, cmd.Flags())
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.stderr = cmd.ErrOrStderr()
			e.logger = newLogger(e.stderr, cfg.Level())
			if cfg.NoColor {
				color.NoColor = true
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config-dir", ".", "directory containing prepared.yml")
	flags.String("manifest", "manifest.yml", "path to the property manifest")
	flags.String("driver", "pgx", "database driver (pgx or sqlite3)")
	flags.String("database-url", "", "database connection string (defaults to $DATABASE_URL)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newListCommand(e))
	rootCmd.AddCommand(newResolveCommand(e))
	rootCmd.AddCommand(newSQLCommand(e))
	rootCmd.AddCommand(newQueryCommand(e))

	return rootCmd
}

// newLogger writes development-style logs to w
func newLogger(w io.Writer, level zapcore.Level) *zap.Logger {
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), level))
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			titleColor := color.New(color.FgCyan, color.Bold)
			out := cmd.OutOrStdout()

			titleColor.Fprint(out, "prepared version: ")
			io.WriteString(out, Version+"\n")
			titleColor.Fprint(out, "Git commit: ")
			io.WriteString(out, GitCommit+"\n")
			titleColor.Fprint(out, "Build date: ")
			io.WriteString(out, BuildDate+"\n")
			titleColor.Fprint(out, "Go version: ")
			io.WriteString(out, goVer+"\n")
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			errorColor := color.New(color.FgRed, color.Bold)
			errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return err
	}
	return nil
}
