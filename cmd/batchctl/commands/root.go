// Package commands implements the batchctl CLI commands.
package commands

import (
	"batchkit/internal/backend"
	"batchkit/internal/build"
	"batchkit/internal/config"
	"batchkit/internal/job"
	"batchkit/internal/orchestrator"
	"batchkit/internal/orchestrator/docker"
	"batchkit/internal/storage"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

// OpenFunc connects the backend called kind, uploading to storageURL.
type OpenFunc func(kind, storageURL string) (*backend.Set, error)

// CLI represents the command line interface for batchctl.
type CLI struct {
	rootCmd *cobra.Command
	open    OpenFunc
}

// Option configures a CLI.
type Option func(*CLI)

// WithOpener replaces how backends are connected. Used for testing.
func WithOpener(open OpenFunc) Option {
	return func(c *CLI) { c.open = open }
}

// New creates a new CLI instance.
func New(opts ...Option) *CLI {
	rootCmd := &cobra.Command{
		Use:           "batchctl",
		Short:         "Preview and submit batch workloads",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn or error")

	c := &CLI{
		rootCmd: rootCmd,
		open:    openBackend,
	}
	for _, opt := range opts {
		opt(c)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: l})))
		return nil
	}

	rootCmd.AddCommand(c.newExpandCmd())
	rootCmd.AddCommand(c.newSubmitCmd())
	rootCmd.AddCommand(c.newTasksCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput redirects standard and error output. Used for testing.
func (c *CLI) SetOutput(out, errOut io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(errOut)
}

// addBackendFlags registers the flags selecting the backend.
func addBackendFlags(cmd *cobra.Command) {
	cmd.Flags().String("backend", config.GetEnv("BACKEND", config.BackendDocker), "Execution backend: docker or memory")
	cmd.Flags().String("storage-url", config.GetEnv("STORAGE_URL", ""), "Object store for uploaded files (docker backend)")
}

// service connects the backend selected by cmd's flags and returns a
// submission service over it. The returned Set must be closed.
func (c *CLI) service(cmd *cobra.Command, orchCfg orchestrator.Config) (*job.Service, *backend.Set, error) {
	kind, _ := cmd.Flags().GetString("backend")
	storageURL, _ := cmd.Flags().GetString("storage-url")

	set, err := c.open(kind, storageURL)
	if err != nil {
		return nil, nil, err
	}
	o := orchestrator.New(set.Execution, set.Storage, orchCfg, nil)
	return job.NewService(o, set.Jobs, nil, nil), set, nil
}

func openBackend(kind, storageURL string) (*backend.Set, error) {
	storageCfg := storage.LoadConfigFromEnv()
	storageCfg.BaseURL = storageURL
	return backend.Open(kind, docker.LoadConfigFromEnv(), storageCfg)
}
