package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"cms-backup/internal/application"
	"cms-backup/internal/config"
	"cms-backup/internal/display"
	appErrors "cms-backup/internal/errors"
	"cms-backup/internal/logging"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Process exit codes
const (
	ExitOK             = 0
	ExitError          = 1
	ExitValidation     = 2
	ExitBusy           = 3
	ExitRestoreFailed  = 4
	ExitRollbackFailed = 5
)

var cfgFile string

// Global flag variables
var (
	verbose bool
	quiet   bool
	noColor bool
	logFile string
	format  string
)

// printer is the last printer built for a command; errors are reported through it
var printer *display.Printer

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cms-backup",
	Short: "Back up and restore a CMS database and its uploaded files",
	Long: `cms-backup packages a MySQL database and the CMS uploads directory into a
single zip archive and restores it later. A database restore that fails is
rolled back to the state it replaced.

Archives can be mirrored to S3, Azure Blob Storage or Google Cloud Storage.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose && quiet {
			return appErrors.Validation("--verbose and --quiet flags are mutually exclusive", nil)
		}
		return nil
	},
}

// Execute runs the command tree and exits with a code describing the outcome.
// SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		reportError(err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.cms-backup.yaml or $HOME/.cms-backup.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format (table, json, yaml)")

	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("display.format", rootCmd.PersistentFlags().Lookup("format"))

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return appErrors.Validation(err.Error(), nil)
	})
}

// exitCode maps an error to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, appErrors.ErrRollback):
		return ExitRollbackFailed
	case errors.Is(err, appErrors.ErrBusy):
		return ExitBusy
	case errors.Is(err, appErrors.ErrValidation), errors.Is(err, appErrors.ErrInvalidName):
		return ExitValidation
	case errors.Is(err, appErrors.ErrRestore), errors.Is(err, appErrors.ErrWipe):
		return ExitRestoreFailed
	default:
		return ExitError
	}
}

func reportError(err error) {
	p := printer
	if p == nil {
		p = display.NewPrinter(display.Options{Color: !noColor})
	}
	p.Error("%s", appErrors.FormatUserError(err))
	p.Hints(application.Hints(err))
}

// loadConfig reads the configuration from file, environment and flags
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	config.Setup(v, cfgFile)

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg, rootCmd.PersistentFlags())
	return cfg, nil
}

// applyFlagOverrides applies the flags that have no one-to-one config key
func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet) {
	if verbose {
		cfg.Logging.Level = string(logging.LogLevelVerbose)
	}
	if quiet {
		cfg.Logging.Level = string(logging.LogLevelQuiet)
	}
	if noColor || os.Getenv("NO_COLOR") != "" {
		cfg.Display.Color = false
	}
	if flags.Changed("format") {
		cfg.Display.Format = format
	}
}

func newPrinter(cfg *config.Config) (*display.Printer, error) {
	outputFormat, err := display.ParseFormat(cfg.Display.Format)
	if err != nil {
		return nil, appErrors.Validation(err.Error(), nil)
	}
	p := display.NewPrinter(display.Options{
		Color:  cfg.Display.Color,
		Quiet:  quiet,
		Format: outputFormat,
	})
	printer = p
	return p, nil
}

// environment is everything a command needs to talk to the backup service
type environment struct {
	cfg     *config.Config
	logger  *logging.Logger
	printer *display.Printer
	svc     *application.Service
}

func newEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	p, err := newPrinter(cfg)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, appErrors.Config("failed to initialize logger", err)
	}
	logger.WithContext(ctx).WithField("config", cfg.String()).Debug("Configuration loaded")

	svc, err := application.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &environment{cfg: cfg, logger: logger, printer: p, svc: svc}, nil
}

// Close shuts the service down once its jobs have finished
func (e *environment) Close(ctx context.Context) {
	if err := e.svc.Close(context.WithoutCancel(ctx)); err != nil {
		e.logger.WithField("error", err.Error()).Warn("Shutdown did not complete cleanly")
	}
}

type handler func(ctx context.Context, env *environment, args []string) error

// withEnvironment adapts a handler that needs a running service into a cobra RunE
func withEnvironment(run handler) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithCorrelationID(cmd.Context(), uuid.NewString())
		env, err := newEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		finish := env.logger.LogOperationStart(cmd.CommandPath(), map[string]interface{}{"args": args})
		err = run(ctx, env, args)
		finish(err)
		return err
	}
}
