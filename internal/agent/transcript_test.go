package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/dataloom-cli/internal/ai"
)

func qa(q, a string) []ai.Message {
	return []ai.Message{{Role: "user", Content: q}, {Role: "assistant", Content: a}}
}

func TestTranscriptUnbounded(t *testing.T) {
	tr := NewTranscript("seed", 0, 0)
	for i := 0; i < 50; i++ {
		tr.Commit(qa("q", "a"))
	}
	require.Equal(t, 101, tr.Len())
	require.Equal(t, 50, tr.Turns())
	require.Zero(t, tr.Dropped())
	require.Equal(t, ai.Message{Role: "system", Content: "seed"}, tr.Messages()[0])
}

func TestTranscriptMessageWindow(t *testing.T) {
	tr := NewTranscript("seed", 7, 0)
	tr.Commit(qa("q1", "a1"))
	tr.Commit([]ai.Message{
		{Role: "user", Content: "q2"},
		{Role: "assistant", Content: `{"action":"execute_code"}`},
		{Role: "system", Content: executionFact("42.0")},
		{Role: "assistant", Content: "There are 42."},
	})
	require.Equal(t, 7, tr.Len())
	require.Zero(t, tr.Dropped())

	tr.Commit(qa("q3", "a3"))
	msgs := tr.Messages()
	require.Equal(t, "seed", msgs[0].Content)
	require.Equal(t, 2, tr.Dropped())
	require.Equal(t, 4, tr.Len())
	require.True(t, strings.HasPrefix(msgs[1].Content, summaryHeader))
	require.Contains(t, msgs[1].Content, `user asked "q1"; answered a1`)
	require.Contains(t, msgs[1].Content, `user asked "q2"; computed 42.0; answered There are 42.`)
	require.Equal(t, qa("q3", "a3"), msgs[2:])
}

func TestTranscriptSummaryKeepsResults(t *testing.T) {
	tr := NewTranscript("seed", 3, 0)
	tr.Commit([]ai.Message{
		{Role: "user", Content: "total units?"},
		{Role: "assistant", Content: "{}"},
		{Role: "system", Content: executionFact("42.0")},
		{Role: "assistant", Content: "42 units."},
	})
	tr.Commit(qa("thanks", "You're welcome."))
	msgs := tr.Messages()
	require.Len(t, msgs, 4)
	require.Contains(t, msgs[1].Content, `user asked "total units?"; computed 42.0; answered 42 units.`)
}

func TestTranscriptNeverSplitsTurn(t *testing.T) {
	tr := NewTranscript("seed", 2, 0)
	big := []ai.Message{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "{}"},
		{Role: "system", Content: executionFact("1")},
		{Role: "assistant", Content: "one"},
	}
	tr.Commit(big)
	require.Equal(t, 5, tr.Len())
	require.Equal(t, 1, tr.Turns())

	tr.Commit(qa("q2", "a2"))
	require.Equal(t, 1, tr.Turns())
	msgs := tr.Messages()
	require.Equal(t, []ai.Message{{Role: "user", Content: "q2"}, {Role: "assistant", Content: "a2"}}, msgs[2:])
}

func TestTranscriptTokenWindow(t *testing.T) {
	long := strings.Repeat("word ", 60)
	tr := NewTranscript("seed", 0, 1000)
	for i := 0; i < 7; i++ {
		tr.Commit(qa(long, long))
		require.True(t, tr.Tokens() <= 1000 || tr.Turns() == 1, "over budget with %d turns", tr.Turns())
	}
	require.Positive(t, tr.Dropped())
	require.Less(t, tr.Turns(), 7)
	require.Equal(t, "seed", tr.Messages()[0].Content)
}

func TestTranscriptSummaryIsBounded(t *testing.T) {
	tr := NewTranscript("seed", 3, 0)
	for i := 0; i < maxSummaryLines+10; i++ {
		tr.Commit(qa("q", "a"))
	}
	note := tr.Messages()[1].Content
	require.Contains(t, note, "(9 older turns not listed)")
	require.Equal(t, maxSummaryLines+1, strings.Count(note, "\n- "))
}

func TestTranscriptMessagesIsACopy(t *testing.T) {
	tr := NewTranscript("seed", 0, 0)
	tr.Commit(qa("q", "a"))
	msgs := tr.Messages()
	msgs[1].Content = "changed"
	require.Equal(t, "q", tr.Messages()[1].Content)
}
