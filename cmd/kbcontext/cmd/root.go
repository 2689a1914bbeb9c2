// Package cmd provides the CLI commands for kbcontext.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbcontext/internal/logging"
	"github.com/Aman-CERP/kbcontext/internal/profiling"
	"github.com/Aman-CERP/kbcontext/internal/ui"
	"github.com/Aman-CERP/kbcontext/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	dir     string
	debug   bool
	noColor bool
	profile profiling.Options

	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the kbcontext CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "kbcontext",
		Short: "Course knowledge base retrieval for tutoring assistants",
		Long: `kbcontext answers questions with the most relevant chunks of a course
knowledge base. It ranks chunks by embedding similarity and falls back to
keyword matching whenever semantic search is unavailable.

Run 'kbcontext serve' to expose retrieval as MCP tools, or
'kbcontext query "your question"' to try it from the shell.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return g.teardown()
		},
	}
	cmd.SetVersionTemplate("kbcontext version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&g.dir, "dir", "C", ".", "Project directory (holds .kbcontext.yaml)")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging to ~/.kbcontext/logs/")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&g.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&g.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newQueryCmd(g))
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newStatusCmd(g))
	cmd.AddCommand(newStatsCmd(g))
	cmd.AddCommand(newExploreCmd(g))
	cmd.AddCommand(newConfigCmd(g))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads .env and installs the default logger. serve replaces the
// logger with a file-only one so stdout stays clean for JSON-RPC.
func (g *globalOptions) setup(cmd *cobra.Command) error {
	// A missing .env file is normal.
	_ = godotenv.Load()

	cfg := logging.DefaultConfig()
	switch {
	case cmd.Name() == "serve" && g.debug:
		cfg = logging.ServerConfig("debug")
	case cmd.Name() == "serve":
		cfg = logging.ServerConfig("info")
	case g.debug:
		cfg = logging.DebugConfig()
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	g.loggingCleanup = cleanup
	if g.debug {
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if g.profile.Enabled() {
		session, err := profiling.Start(g.profile)
		if err != nil {
			return err
		}
		g.profiler = session
	}
	return nil
}

func (g *globalOptions) teardown() error {
	var err error
	if g.profiler != nil {
		err = g.profiler.Stop()
		g.profiler = nil
	}
	if g.loggingCleanup != nil {
		g.loggingCleanup()
		g.loggingCleanup = nil
	}
	return err
}

// useColor reports whether output to cmd's stdout should be styled.
func (g *globalOptions) useColor(cmd *cobra.Command) bool {
	return !g.noColor && ui.UseColor(cmd.OutOrStdout())
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
