package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-replay/internal/api"
	"github.com/miradorstack/mirador-replay/internal/config"
	"github.com/miradorstack/mirador-replay/internal/replay"
	"github.com/miradorstack/mirador-replay/internal/shell"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List captured records in the dump directory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, _, err := opts.settings()
			if err != nil {
				return err
			}
			dumps, err := replay.ListDumps(rc.DumpDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range dumps {
				fmt.Fprintf(out, "%s\t%s\t%s\n", d.Name, humanize.Bytes(uint64(d.Size)), d.ModTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a captured record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, _, err := opts.settings()
			if err != nil {
				return err
			}
			path, err := replay.Resolve(args[0], rc.DumpDir)
			if err != nil {
				return err
			}
			rec, err := replay.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:       %s\n", rec.CorrelationID)
			fmt.Fprintf(out, "model:    %s\n", rec.ModelName)
			fmt.Fprintf(out, "status:   %s\n", rec.StatusMessage)
			if !rec.CapturedAt.IsZero() {
				fmt.Fprintf(out, "captured: %s\n", rec.CapturedAt.Format(time.RFC3339))
			}
			for _, name := range rec.InputNames() {
				t := rec.Inputs[name]
				fmt.Fprintf(out, "input:    %s %s %v %s\n", name, api.ToWireType(t.ElementType), t.Shape, humanize.Bytes(uint64(len(t.Data))))
			}
			return nil
		},
	}
}

func newReplayCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <name>",
		Short: "Resend a captured record to the inference server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, _, err := opts.settings()
			if err != nil {
				return err
			}
			path, err := replay.Resolve(args[0], rc.DumpDir)
			if err != nil {
				return err
			}
			rec, err := replay.Load(path)
			if err != nil {
				return err
			}

			conn, err := connect(cmd.Context(), opts, rc)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := requestContext(cmd.Context(), rc)
			defer cancel()
			sig, err := conn.ModelSignature(ctx, rec.ModelName)
			if err != nil {
				return err
			}
			outcome, err := replay.Send(ctx, rec, sig, conn)
			if err != nil {
				var inferErr *replay.InferError
				if errors.As(err, &inferErr) {
					fmt.Fprintf(cmd.OutOrStdout(), "request id: %s\n", inferErr.RequestID)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "request id: %s\n", outcome.RequestID)
			for _, o := range outcome.Outputs {
				if o.Err != nil {
					fmt.Fprintf(out, "output:     %s error: %v\n", o.Name, o.Err)
					continue
				}
				fmt.Fprintf(out, "output:     %s %s %v\n", o.Name, api.ToWireType(o.ElementType), o.Shape)
			}
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe inference server liveness and readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, _, err := opts.settings()
			if err != nil {
				return err
			}
			conn, err := connect(cmd.Context(), opts, rc)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := requestContext(cmd.Context(), rc)
			defer cancel()
			live, err := conn.IsLive(ctx)
			if err != nil {
				return err
			}
			ready, err := conn.IsReady(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s live=%t ready=%t\n", conn.Address(), live, ready)
			if !ready {
				return fmt.Errorf("server %s is not ready", conn.Address())
			}
			return nil
		},
	}
}

func connect(ctx context.Context, opts *options, rc config.ReplayConfig) (shell.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := dialTimeoutContext(ctx, rc)
	defer cancel()
	return opts.dialer(rc)(dialCtx, rc.ServerAddress)
}

func requestContext(ctx context.Context, rc config.ReplayConfig) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if rc.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rc.RequestTimeout)
}
