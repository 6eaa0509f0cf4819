package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/zhmcctl/internal/app"
	"github.com/dokzlo13/zhmcctl/internal/config"
	"github.com/dokzlo13/zhmcctl/internal/output"
)

// exitError carries the exit code of a command whose failure has already
// been reported on stdout.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// globalOptions are the flags shared by all commands.
type globalOptions struct {
	configPath string
	logLevel   string

	host      string
	userid    string
	password  string
	sessionID string
	caCerts   string
	noVerify  bool
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "zhmcctl",
		Short: "Manage virtual functions and list partitions on IBM Z HMCs",
		Long: `zhmcctl makes virtual functions of DPM partitions match a desired state
and lists partitions, using the HMC Web Services API.

Results are printed as JSON on stdout. Without --config, connection settings
are read from ZHMC_HOST, ZHMC_USERID, ZHMC_PASSWORD and ZHMC_SESSION_ID.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetVersionTemplate(`{{printf "zhmcctl version %s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "Path to configuration file")
	flags.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides log.level")
	flags.StringVar(&g.host, "host", "", "HMC hostname or IP address, overrides hmc.host")
	flags.StringVar(&g.userid, "userid", "", "HMC userid")
	flags.StringVar(&g.password, "password", "", "HMC password")
	flags.StringVar(&g.sessionID, "session-id", "", "Existing HMC session id, instead of userid and password")
	flags.StringVar(&g.caCerts, "ca-certs", "", "PEM file or directory with the CA certificates of the HMC")
	flags.BoolVar(&g.noVerify, "no-verify", false, "Do not verify the HMC certificate")

	root.AddCommand(
		newVFunctionCmd(g),
		newPartitionsCmd(g),
		newHistoryCmd(g),
		newVersionCmd(),
	)
	return root
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return output.ExitFailure
}

// loadConfig loads the configuration, applies the command line overrides
// and sets up logging. The returned cleanup closes the log file, if any.
func (g *globalOptions) loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	if g.host != "" {
		cfg.HMC.Host = g.host
	}
	if g.userid != "" || g.password != "" {
		cfg.HMC.Auth.SessionID = ""
		if g.userid != "" {
			cfg.HMC.Auth.Userid = g.userid
		}
		if g.password != "" {
			cfg.HMC.Auth.Password = g.password
		}
	}
	if g.sessionID != "" {
		cfg.HMC.Auth.SessionID = g.sessionID
		cfg.HMC.Auth.Userid = ""
		cfg.HMC.Auth.Password = ""
	}
	if g.caCerts != "" {
		cfg.HMC.Auth.CACerts = g.caCerts
	}
	if g.noVerify {
		verify := false
		cfg.HMC.Auth.Verify = &verify
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}

	cleanup, err := setupLogging(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cleanup, nil
}

// newApp loads the configuration for a command that talks to the HMC.
func (g *globalOptions) newApp() (*app.App, func(), error) {
	cfg, cleanup, err := g.loadConfig()
	if err != nil {
		return nil, nil, output.ParameterError(err)
	}
	if err := cfg.Validate(); err != nil {
		cleanup()
		return nil, nil, output.ParameterError(err)
	}

	a, err := app.New(cfg, log.Logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close ledger")
		}
		cleanup()
	}, nil
}

// fail reports err as a failure document and returns the matching exitError.
func fail(cmd *cobra.Command, err error) error {
	code := output.WriteFailure(cmd.OutOrStdout(), err)
	return &exitError{code: code}
}
