package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/pipewatch"
	"github.com/hupe1980/pipewatch/config"
	"github.com/hupe1980/pipewatch/core"
	"github.com/hupe1980/pipewatch/runner"
	"github.com/hupe1980/pipewatch/transport"
)

type watchFlags struct {
	workflowID  string
	mode        string
	autoApprove bool
}

func newWatchCommand(g *globalFlags) *cobra.Command {
	f := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch [prompt]",
		Short: "Start a run and follow it in the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			req := transport.TaskRequest{
				Prompt:     strings.Join(args, " "),
				WorkflowID: f.workflowID,
				Mode:       f.mode,
			}
			return watch(cmd.Context(), cfg, req, f, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.workflowID, "workflow-id", "", "workflow to run")
	cmd.Flags().StringVar(&f.mode, "mode", "", "backend execution mode")
	cmd.Flags().BoolVar(&f.autoApprove, "auto-approve", false, "approve every checkpoint without asking")
	return cmd
}

func watch(ctx context.Context, cfg config.Config, req transport.TaskRequest, f *watchFlags, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots := make(chan core.RunState, 256)
	p, err := pipewatch.New(cfg, func(o *pipewatch.Options) {
		o.OnSnapshot = func(st core.RunState) {
			select {
			case snapshots <- st:
			default:
			}
		}
		o.OnWarning = func(runID string, err error) {
			var agentErr *core.AgentError
			if errors.As(err, &agentErr) {
				return
			}
			fmt.Fprintln(out, yellow("warning: "+err.Error()))
		}
	})
	if err != nil {
		return err
	}
	defer p.Close()

	h, err := p.Start(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", bold("run"), h.ID())

	r := newRenderer(out)
	answers := bufio.NewReader(in)
	asked := ""

	for {
		select {
		case st := <-snapshots:
			r.render(st)
			if st.OutstandingHitl != nil && st.OutstandingHitl.RequestID != asked {
				asked = st.OutstandingHitl.RequestID
				if err := answer(ctx, h, st.OutstandingHitl, f.autoApprove, answers, out); err != nil {
					fmt.Fprintln(out, red(err.Error()))
				}
			}
		case <-h.Done():
			st := h.State()
			r.render(st)
			summary(out, st, h.Err())
			return h.Err()
		case <-ctx.Done():
			_ = p.Runner().Cancel(h)
			summary(out, h.State(), nil)
			return nil
		}
	}
}

func answer(ctx context.Context, h *runner.RunHandle, req *core.HitlRequest, auto bool, in *bufio.Reader, out io.Writer) error {
	if auto {
		fmt.Fprintln(out, green("auto-approving "+req.RequestID))
		return h.SubmitHitlResponse(ctx, core.HitlResponse{RequestID: req.RequestID, Action: core.HitlApprove})
	}
	for {
		checkpoint(out, req)
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("no answer for checkpoint %s: %w", req.RequestID, err)
		}
		resp, ok := parseAnswer(req.RequestID, line)
		if !ok {
			fmt.Fprintln(out, red("unknown answer"))
			continue
		}
		err = h.SubmitHitlResponse(ctx, resp)
		var pv *core.ProtocolViolation
		if errors.As(err, &pv) && pv.Kind == core.ViolationSkipNotAllowed {
			fmt.Fprintln(out, red("this checkpoint cannot be skipped"))
			continue
		}
		return err
	}
}
