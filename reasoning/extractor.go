// Package reasoning separates a delimited "thinking" sub-stream from the
// visible text of streamed model output.
//
// Markers may be split across fragments, so the Extractor threads a carry
// (core.ReasoningCarry) between calls: a trailing fragment that could be the
// start of a marker is held back and re-examined with the next fragment.
// Visible text is never dropped; an open block that is still unterminated at
// end of stream stays exposed as in-progress reasoning.
package reasoning

import (
	"strings"

	"github.com/hupe1980/pipewatch/core"
)

// State is the carry threaded between Extract calls.
type State = core.ReasoningCarry

// Default markers.
const (
	DefaultOpenMarker  = "<think>"
	DefaultCloseMarker = "</think>"
)

// Result is the outcome of one Extract call.
type Result struct {
	// Visible is text outside any reasoning block.
	Visible string
	// Reasoning holds blocks closed during this call, in order.
	Reasoning []string
	// Carry must be passed to the next call for the same stream.
	Carry State
}

// InProgress returns the reasoning text of a block still open after this call.
func (r Result) InProgress() string {
	if !r.Carry.Thinking {
		return ""
	}
	return r.Carry.Partial + r.Carry.Pending
}

// Extractor splits fragments on a pair of markers.
type Extractor struct {
	open  string
	close string
}

// New creates an Extractor. Empty markers fall back to the defaults.
func New(openMarker, closeMarker string) *Extractor {
	if openMarker == "" {
		openMarker = DefaultOpenMarker
	}
	if closeMarker == "" {
		closeMarker = DefaultCloseMarker
	}
	return &Extractor{open: openMarker, close: closeMarker}
}

// Extract processes fragment with carry. Extract("", c) returns c unchanged
// and no text.
func (x *Extractor) Extract(fragment string, carry State) Result {
	if fragment == "" {
		return Result{Carry: carry}
	}

	var visible strings.Builder
	var blocks []string
	buf := carry.Pending + fragment
	carry.Pending = ""

	for buf != "" {
		if !carry.Thinking {
			if i := strings.Index(buf, x.open); i >= 0 {
				visible.WriteString(buf[:i])
				buf = buf[i+len(x.open):]
				carry.Thinking = true
				carry.Partial = ""
				continue
			}
			k := partialSuffix(buf, x.open)
			visible.WriteString(buf[:len(buf)-k])
			carry.Pending = buf[len(buf)-k:]
			break
		}

		if i := strings.Index(buf, x.close); i >= 0 {
			blocks = append(blocks, carry.Partial+buf[:i])
			buf = buf[i+len(x.close):]
			carry.Thinking = false
			carry.Partial = ""
			continue
		}
		k := partialSuffix(buf, x.close)
		carry.Partial += buf[:len(buf)-k]
		carry.Pending = buf[len(buf)-k:]
		break
	}

	return Result{Visible: visible.String(), Reasoning: blocks, Carry: carry}
}

// Flush ends a stream. Held back text outside a block is released as
// visible. Inside an unterminated block the pending bytes join the partial
// reasoning, which is returned as in-progress rather than discarded.
func (x *Extractor) Flush(carry State) (visible string, inProgress string, next State) {
	if !carry.Thinking {
		return carry.Pending, "", State{}
	}
	carry.Partial += carry.Pending
	carry.Pending = ""
	return "", carry.Partial, carry
}

// partialSuffix returns the length of the longest proper suffix of s that is
// a prefix of marker.
func partialSuffix(s, marker string) int {
	maxK := len(marker) - 1
	if len(s) < maxK {
		maxK = len(s)
	}
	for k := maxK; k > 0; k-- {
		if strings.HasSuffix(s, marker[:k]) {
			return k
		}
	}
	return 0
}
