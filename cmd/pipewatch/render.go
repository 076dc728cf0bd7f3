package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/hupe1980/pipewatch/core"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func statusColor(s core.NodeStatus) func(a ...interface{}) string {
	switch s {
	case core.NodeRunning:
		return blue
	case core.NodeCompleted:
		return green
	case core.NodeError:
		return red
	default:
		return gray
	}
}

// renderer prints one line per node change between successive snapshots.
type renderer struct {
	w    io.Writer
	prev core.RunState
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

func (r *renderer) render(cur core.RunState) {
	for _, n := range cur.OrderedNodes() {
		old, seen := r.prev.Node(n.ID)
		if seen && old.Status == n.Status && old.Message == n.Message && old.Error == n.Error {
			continue
		}
		fmt.Fprintln(r.w, nodeLine(n, cur.ProgressPercent))
	}
	r.renderIteration(cur)
	r.renderArtifacts(cur)
	r.prev = cur
}

func (r *renderer) renderIteration(cur core.RunState) {
	if cur.RefinementIteration == r.prev.RefinementIteration || cur.RefinementIteration == 0 {
		return
	}
	fmt.Fprintln(r.w, cyan(fmt.Sprintf("refinement iteration %d/%d", cur.RefinementIteration, cur.MaxRefinementIterations)))
}

func (r *renderer) renderArtifacts(cur core.RunState) {
	for _, a := range cur.SortedArtifacts() {
		old, ok := r.prev.Artifacts[a.Filename]
		if ok && old.Content == a.Content {
			continue
		}
		fmt.Fprintf(r.w, "  %s %s %s\n", green("+"), a.Filename, gray("("+a.Language+")"))
	}
}

func nodeLine(n core.AgentNode, progress float64) string {
	title := n.Title
	if title == "" {
		title = n.ID
	}
	line := fmt.Sprintf("[%5.1f%%] %-12s %s", progress, statusColor(n.Status)(string(n.Status)), bold(title))
	switch {
	case n.Error != "":
		line += " " + red(n.Error)
	case n.Message != "":
		line += " " + gray(n.Message)
	}
	return line
}

// summary prints the final state of a run.
func summary(w io.Writer, st core.RunState, err error) {
	counts := st.CountByStatus()
	fmt.Fprintf(w, "\n%s run %s: %d events, %d completed, %d failed, %d artifacts\n",
		bold("done"), st.RunID, st.EventsApplied, counts[core.NodeCompleted], counts[core.NodeError], len(st.Artifacts))
	switch {
	case st.Cancelled:
		fmt.Fprintln(w, yellow("cancelled"))
	case st.TerminalError != "":
		fmt.Fprintln(w, red("error: "+st.TerminalError))
	case err != nil:
		fmt.Fprintln(w, red("error: "+err.Error()))
	}
}

// checkpoint prints an outstanding checkpoint and the accepted answers.
func checkpoint(w io.Writer, req *core.HitlRequest) {
	fmt.Fprintln(w, yellow(bold("checkpoint: "+req.Title)))
	if req.Description != "" {
		fmt.Fprintln(w, req.Description)
	}
	if req.Content != "" {
		for _, l := range strings.Split(req.Content, "\n") {
			fmt.Fprintln(w, "  "+gray(l))
		}
	}
	choices := "[a]pprove, [r]eject, re[t]ry, [m]odify"
	if req.AllowSkip {
		choices += ", [s]kip"
	}
	fmt.Fprint(w, cyan(choices+": "))
}

// parseAnswer maps a typed answer onto a response. The first word selects
// the action; the rest becomes feedback, or modified content for modify.
func parseAnswer(requestID, line string) (core.HitlResponse, bool) {
	line = strings.TrimSpace(line)
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var action core.HitlAction
	switch strings.ToLower(word) {
	case "a", "y", "yes":
		action = core.HitlApprove
	case "r", "n", "no":
		action = core.HitlReject
	case "t":
		action = core.HitlRetry
	case "s":
		action = core.HitlSkip
	case "m":
		action = core.HitlModify
	default:
		a, ok := core.ParseHitlAction(word)
		if !ok {
			return core.HitlResponse{}, false
		}
		action = a
	}

	resp := core.HitlResponse{RequestID: requestID, Action: action}
	if rest != "" {
		if action == core.HitlModify {
			resp.ModifiedContent = &rest
		} else {
			resp.Feedback = &rest
		}
	}
	return resp, true
}
