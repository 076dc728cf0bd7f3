package reasoning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run feeds fragments in order and returns the joined visible text, the
// closed blocks and the final carry.
func run(x *Extractor, fragments ...string) (string, []string, State) {
	var vis strings.Builder
	var blocks []string
	var carry State
	for _, f := range fragments {
		r := x.Extract(f, carry)
		vis.WriteString(r.Visible)
		blocks = append(blocks, r.Reasoning...)
		carry = r.Carry
	}
	return vis.String(), blocks, carry
}

func TestExtract_MarkerSplitAcrossFragments(t *testing.T) {
	x := New("", "")
	vis, blocks, carry := run(x, "<thi", "nk>reasoning</think>")
	assert.Equal(t, "", vis)
	assert.Equal(t, []string{"reasoning"}, blocks)
	assert.True(t, carry.IsZero())
}

func TestExtract_VisibleAroundBlock(t *testing.T) {
	x := New("", "")
	vis, blocks, _ := run(x, "Hello <think>plan A", " then B</th", "ink> world")
	assert.Equal(t, "Hello  world", vis)
	assert.Equal(t, []string{"plan A then B"}, blocks)
}

func TestExtract_EveryByteBoundary(t *testing.T) {
	input := "pre<think>alpha</think>mid<think>beta</think>post"
	for i := 0; i <= len(input); i++ {
		for j := i; j <= len(input); j++ {
			vis, blocks, carry := run(New("", ""), input[:i], input[i:j], input[j:])
			require.Equal(t, "premidpost", vis, "split %d/%d", i, j)
			require.Equal(t, []string{"alpha", "beta"}, blocks, "split %d/%d", i, j)
			require.True(t, carry.IsZero(), "split %d/%d", i, j)
		}
	}
}

func TestExtract_EmptyInputIdempotent(t *testing.T) {
	x := New("", "")
	carry := State{Pending: "<th"}
	r := x.Extract("", carry)
	assert.Equal(t, carry, r.Carry)
	assert.Empty(t, r.Visible)
	assert.Empty(t, r.Reasoning)
}

func TestExtract_FalseMarkerPrefixReleased(t *testing.T) {
	x := New("", "")
	vis, blocks, carry := run(x, "a <th", "is is text")
	assert.Equal(t, "a <this is text", vis)
	assert.Empty(t, blocks)
	assert.True(t, carry.IsZero())
}

func TestFlush_UnterminatedBlockIsInProgress(t *testing.T) {
	x := New("", "")
	vis, blocks, carry := run(x, "answer <think>still work", "ing </thi")
	assert.Equal(t, "answer ", vis)
	assert.Empty(t, blocks)
	assert.True(t, carry.Thinking)

	r := x.Extract("", carry)
	assert.Equal(t, "still working ", r.Carry.Partial)
	assert.Equal(t, "still working </thi", r.InProgress())

	v, inProgress, next := x.Flush(carry)
	assert.Empty(t, v)
	assert.Equal(t, "still working </thi", inProgress)
	assert.True(t, next.Thinking)
}

func TestFlush_ReleasesHeldVisibleText(t *testing.T) {
	x := New("", "")
	_, _, carry := run(x, "tail <thi")
	v, inProgress, next := x.Flush(carry)
	assert.Equal(t, "<thi", v)
	assert.Empty(t, inProgress)
	assert.True(t, next.IsZero())
}

func TestExtract_CustomMarkers(t *testing.T) {
	x := New("[[r]]", "[[/r]]")
	vis, blocks, _ := run(x, "x[[", "r]]y[[/r", "]]z")
	assert.Equal(t, "xz", vis)
	assert.Equal(t, []string{"y"}, blocks)
}
