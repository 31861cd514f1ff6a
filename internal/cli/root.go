// Package cli builds the tempmail command tree.
package cli

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/client"
	"github.com/nhle/tempmail/internal/credential"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/system"
)

// Config wires the root command.
type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// Secrets defaults to the system keyring.
	Secrets SecretStore
}

type runtimeState struct {
	configPath     string
	serverOverride string
	debug          bool
	jsonOutput     bool
	cfg            *model.AppConfig
	writer         io.Writer
	secrets        SecretStore
	logger         *zap.Logger
}

type runtimeKey struct{}

// DefaultConfig returns the configuration used by the tempmail binary.
func DefaultConfig() Config {
	return Config{
		ConfigPath:   model.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		Secrets:      credential.Keyring{},
	}
}

// NewRootCommand returns the tempmail root command with every
// subcommand attached.
func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		secrets:    cfg.Secrets,
	}

	root := &cobra.Command{
		Use:           "tempmail",
		Short:         "Disposable email addresses with an encrypted inbox",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.secrets == nil {
				rt.secrets = credential.Keyring{}
			}
			if rt.configPath == "" {
				rt.configPath = model.DefaultConfigPath()
			}
			if rt.serverOverride == "" {
				rt.serverOverride = os.Getenv("TEMPMAIL_SERVER")
			}
			if cmd.Name() == "completion" {
				return nil
			}

			appCfg, err := model.LoadConfig(rt.configPath)
			if err != nil {
				return err
			}
			rt.cfg = appCfg
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVar(&rt.serverOverride, "server", "", "API base URL (overrides client.server)")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&rt.jsonOutput, "json", false, "Print JSON instead of text")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		newServeCommand(),
		newAddressCommand(),
		newInboxCommand(),
		newWatchCommand(),
		newSweepCommand(),
		newSelfTestCommand(),
		newKeysCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Writer returns where command output goes.
func (rt *runtimeState) Writer() io.Writer {
	if rt.writer == nil {
		return os.Stdout
	}
	return rt.writer
}

// Logger builds the process logger once. Server debug mode or --debug
// selects the development encoder.
func (rt *runtimeState) Logger() (*zap.Logger, error) {
	if rt.logger != nil {
		return rt.logger, nil
	}
	debug := rt.debug
	if rt.cfg != nil && rt.cfg.Server.Debug {
		debug = true
	}
	logger, err := system.NewLogger(debug)
	if err != nil {
		return nil, err
	}
	rt.logger = logger
	return logger, nil
}

// ServerURL resolves the API base URL: flag, env, then config.
func (rt *runtimeState) ServerURL() string {
	if rt.serverOverride != "" {
		return rt.serverOverride
	}
	if rt.cfg != nil && rt.cfg.Client.Server != "" {
		return rt.cfg.Client.Server
	}
	return model.DefaultAppConfig().Client.Server
}

// Client returns an unauthenticated API client.
func (rt *runtimeState) Client() *client.Client {
	return client.New(rt.ServerURL())
}
