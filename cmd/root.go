// File: cmd/root.go

// Package cmd defines the crucible command line interface: validate,
// refine, watch and version, plus the configuration and logger bootstrap
// they share.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/observability"
	"github.com/xkilldash9x/crucible/internal/service"
)

// Process exit codes. Validation outcomes get distinct codes so feed
// tooling can branch on them without parsing the report.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitValidationFailed = 2
	ExitHumanReview      = 3
)

// Sentinel errors mapped to exit codes by ExitCode. Commands wrap these
// with the capsule context.
var (
	// ErrValidationFailed reports a completed run whose capsule failed a
	// hard gate.
	ErrValidationFailed = errors.New("validation failed")

	// ErrHumanReviewRequired reports a completed run whose result needs a
	// human decision before the capsule ships.
	ErrHumanReviewRequired = errors.New("human review required")
)

// rootOptions carries the state shared between the root command and its
// subcommands: the configuration loaded by PersistentPreRunE and the
// factory that builds the component graph. Tests swap the factory for a
// stub.
type rootOptions struct {
	cfgFile string
	cfg     *config.Config
	factory service.ComponentFactory
}

// NewRootCommand builds a fresh root command wired to the production
// component factory. Each call returns an isolated instance so repeated
// invocations do not share flag or config state.
func NewRootCommand() *cobra.Command {
	return newRootCmd(&rootOptions{factory: service.NewComponentFactory()})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crucible",
		Short: "Validate, score and refine generated code capsules.",
		Long: `Crucible runs code capsules through layered validation: structural
checks, sandboxed execution, then quality and production heuristics.
Reports carry a confidence score and flag capsules that need a human
decision before they ship.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initializeConfig(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			opts.cfg = cfg
			observability.InitializeLogger(cfg.Logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "",
		"config file (default ./config.yaml, then $HOME/.crucible/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newValidateCmd(opts))
	rootCmd.AddCommand(newRefineCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the CLI under the given base context and returns the
// command error, already logged. Callers map it to a process exit code
// with ExitCode.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	logger := observability.GetLogger()
	switch {
	case errors.Is(err, ErrValidationFailed), errors.Is(err, ErrHumanReviewRequired):
		// An outcome, not a malfunction. The report carries the detail.
		logger.Warn("Run finished with a non-passing outcome.", zap.Error(err))
	case errors.Is(err, context.Canceled):
		logger.Info("Aborted by user signal.")
	default:
		logger.Error("Command failed.", zap.Error(err))
	}
	return err
}

// ExitCode maps the error returned by Execute to a process exit code.
// Cancellation counts as a clean stop.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrValidationFailed):
		return ExitValidationFailed
	case errors.Is(err, ErrHumanReviewRequired):
		return ExitHumanReview
	case errors.Is(err, context.Canceled):
		return ExitOK
	default:
		return ExitError
	}
}

// initializeConfig layers defaults, an optional config file and
// CRUCIBLE_* environment variables into a validated Config. An explicit
// config file must exist; the default search paths may come up empty.
func initializeConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".crucible"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CRUCIBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found. Defaults plus environment carry the run.
	}

	return config.NewConfigFromViper(v)
}
