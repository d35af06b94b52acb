package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyBody(t *testing.T) {
	assert.Nil(t, Split("", DefaultOptions()))
}

func TestSplitShortBodySingleChunk(t *testing.T) {
	body := "just a short note, nothing fancy here."
	chunks := Split(body, DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Seq)
	assert.Equal(t, 0, chunks[0].Pos)
	assert.Equal(t, body, chunks[0].Text)
}

func TestSplitDenseSeqAndOverlap(t *testing.T) {
	opts := Options{TargetSize: 200, Overlap: 40}
	para := strings.Repeat("word ", 20) + "\n\n"
	body := strings.Repeat(para, 10)

	chunks := Split(body, opts)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
	}
	// Consecutive chunks should overlap: the tail of chunk i should
	// reappear near the head of chunk i+1.
	for i := 0; i+1 < len(chunks); i++ {
		assert.Less(t, chunks[i].Pos, chunks[i+1].Pos, "chunk starts must advance")
		assert.LessOrEqual(t, chunks[i+1].Pos, chunks[i].Pos+len(chunks[i].Text))
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	opts := Options{TargetSize: 50, Overlap: 10}
	body := strings.Repeat("a", 45) + "\n\n" + strings.Repeat("b", 45)

	chunks := Split(body, opts)
	require.NotEmpty(t, chunks)
	// The first chunk should end right at the paragraph break, not mid-run.
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n") || !strings.Contains(chunks[0].Text, "b"))
}

func TestSplitNeverBreaksInsideFencedCodeBlock(t *testing.T) {
	opts := Options{TargetSize: 30, Overlap: 5}
	code := "```go\n" + strings.Repeat("fmt.Println(1)\n", 5) + "```"
	body := strings.Repeat("intro text here. ", 3) + code + strings.Repeat(" outro text here.", 3)

	chunks := Split(body, opts)
	fenceStart := strings.Index(body, "```")
	fenceEnd := strings.Index(body, "```", fenceStart+3) + 3

	for _, c := range chunks {
		end := c.Pos + len([]rune(c.Text))
		startByte := len(string([]rune(body)[:c.Pos]))
		endByte := len(string([]rune(body)[:end]))
		if startByte < fenceEnd && endByte > fenceStart {
			// chunk overlaps the fence: it must fully contain it, i.e.
			// start at or before fenceStart and end at or after fenceEnd.
			assert.LessOrEqual(t, startByte, fenceStart)
			assert.GreaterOrEqual(t, endByte, fenceEnd)
		}
	}
}

func TestSplitHandlesUnterminatedFence(t *testing.T) {
	opts := Options{TargetSize: 20, Overlap: 5}
	body := strings.Repeat("lead in. ", 4) + "```go\nfunc main() {}\n"

	chunks := Split(body, opts)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasSuffix(last.Text, "func main() {}\n"))
}

func TestSplitPosMatchesOriginalOffsets(t *testing.T) {
	opts := Options{TargetSize: 60, Overlap: 15}
	body := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10)

	chunks := Split(body, opts)
	runes := []rune(body)
	for _, c := range chunks {
		end := c.Pos + len([]rune(c.Text))
		require.LessOrEqual(t, end, len(runes))
		assert.Equal(t, string(runes[c.Pos:end]), c.Text)
	}
}
