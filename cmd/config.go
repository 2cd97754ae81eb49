package cmd

import (
	"fmt"
	"os"
	"runtime"

	"cms-backup/internal/config"
	appErrors "cms-backup/internal/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information (set by build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	initOutput string
	initForce  bool
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cms-backup version %s\n", version)
		fmt.Fprintf(out, "Built: %s\n", buildTime)
		fmt.Fprintf(out, "Commit: %s\n", gitCommit)
		fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration",
	Long: `Settings are read from a YAML file (--config, or .cms-backup.yaml in the
working directory or $HOME), then overridden by CMS_BACKUP_* environment
variables and command-line flags.

Examples:
  # Write a commented sample configuration
  cms-backup config init -o .cms-backup.yaml

  # Show the effective configuration with secrets masked
  cms-backup config show`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return appErrors.Config("failed to render configuration", err)
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a sample configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sample := config.Sample()
		if initOutput == "" || initOutput == "-" {
			_, err := fmt.Fprint(cmd.OutOrStdout(), sample)
			return err
		}

		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if !initForce {
			flags |= os.O_EXCL
		}
		f, err := os.OpenFile(initOutput, flags, 0o600)
		if err != nil {
			if os.IsExist(err) {
				return appErrors.Validation(fmt.Sprintf("%s already exists; use --force to overwrite it", initOutput), nil)
			}
			return appErrors.Config("cannot write configuration file", err)
		}
		if _, err := f.WriteString(sample); err != nil {
			f.Close()
			return appErrors.Config("cannot write configuration file", err)
		}
		if err := f.Close(); err != nil {
			return appErrors.Config("cannot write configuration file", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", initOutput)
		return nil
	},
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List the environment variables that override settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		config.Setup(v, "")
		for _, name := range config.EnvironmentVariables(v) {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEnvCmd)

	configInitCmd.Flags().StringVarP(&initOutput, "output", "o", "", "write to this file instead of stdout")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}
