// Command replayctl inspects captured inference requests and replays them against a live server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"google.golang.org/grpc"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/config"
	"github.com/miradorstack/mirador-replay/internal/shell"
	"github.com/miradorstack/mirador-replay/internal/utils"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
	server     string
	dumpDir    string
	timeout    time.Duration

	dial shell.Dialer
}

// settings resolves the replay configuration, letting flags win over the config file.
func (o *options) settings() (config.ReplayConfig, *config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.ReplayConfig{}, nil, err
	}
	rc := cfg.Replay
	if o.server != "" {
		rc.ServerAddress = o.server
	}
	if o.dumpDir != "" {
		rc.DumpDir = o.dumpDir
	}
	if o.timeout > 0 {
		rc.RequestTimeout = o.timeout
	}
	return rc, cfg, nil
}

func (o *options) dialer(rc config.ReplayConfig) shell.Dialer {
	if o.dial != nil {
		return o.dial
	}
	return shell.DialClient(clientOptions(rc)...)
}

// clientOptions applies the configured message size limit to every dial.
func clientOptions(rc config.ReplayConfig) []grpc.DialOption {
	if rc.MaxMessageBytes <= 0 {
		return nil
	}
	return []grpc.DialOption{api.WithMaxMessageBytes(rc.MaxMessageBytes)}
}

// newRootCmd builds the command tree. A nil dial uses the gRPC client.
func newRootCmd(dial shell.Dialer) *cobra.Command {
	opts := &options{dial: dial}

	root := &cobra.Command{
		Use:           "replayctl",
		Short:         "Inspect and replay captured inference requests",
		Long:          "replayctl lists, prints and resends inference requests captured by the replay server.\nWithout a subcommand it starts the interactive shell.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (or MIRADOR_REPLAY_CONFIG)")
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", "", "Inference server address")
	root.PersistentFlags().StringVarP(&opts.dumpDir, "dump-dir", "d", "", "Directory holding captured records")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Per-request timeout")

	root.AddCommand(
		newShellCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newReplayCmd(opts),
		newStatusCmd(opts),
	)
	return root
}

func newShellCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive replay shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, opts)
		},
	}
}

func runShell(cmd *cobra.Command, opts *options) error {
	rc, cfg, err := opts.settings()
	if err != nil {
		return err
	}

	prompt := ""
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		prompt = "replay> "
	}
	sh := shell.New(shell.Config{
		ServerAddress:  rc.ServerAddress,
		DumpDir:        rc.DumpDir,
		DialTimeout:    rc.DialTimeout,
		RequestTimeout: rc.RequestTimeout,
		Dial:           opts.dialer(rc),
		Prompt:         prompt,
		Logger:         utils.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.JSON),
	}, cmd.OutOrStdout())

	if prompt != "" {
		fmt.Fprintln(cmd.OutOrStdout(), "type help for commands, quit to leave")
	}
	return sh.Run(cmd.Context(), cmd.InOrStdin())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// dialTimeoutContext bounds connection setup for one-shot commands.
func dialTimeoutContext(ctx context.Context, rc config.ReplayConfig) (context.Context, context.CancelFunc) {
	if rc.DialTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rc.DialTimeout)
}
