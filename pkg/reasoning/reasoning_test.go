package reasoning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-neurobridge/pkg/inference"
)

func TestLoadSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	hw := filepath.Join(dir, "hw.txt")
	tmpl := filepath.Join(dir, "tmpl.txt")
	require.NoError(t, os.WriteFile(hw, []byte("  HARDWARE\n"), 0o644))
	require.NoError(t, os.WriteFile(tmpl, []byte("TEMPLATE"), 0o644))

	got := LoadSystemPrompt(PromptFiles{
		Hardware:    hw,
		Template:    tmpl,
		Personality: filepath.Join(dir, "missing.txt"),
	}, nil)
	assert.Equal(t, "HARDWARE\n\nTEMPLATE", got)

	assert.Empty(t, LoadSystemPrompt(PromptFiles{}, nil))
}

func TestShippedPromptsLoad(t *testing.T) {
	files := DefaultPromptFiles()
	root := filepath.Join("..", "..")
	files.Hardware = filepath.Join(root, files.Hardware)
	files.Template = filepath.Join(root, files.Template)
	files.Personality = filepath.Join(root, files.Personality)

	prompt := LoadSystemPrompt(files, nil)
	assert.Contains(t, prompt, "Message")
	assert.Contains(t, prompt, "camera_enable")
}

func TestAgent_QueryBuildsMessages(t *testing.T) {
	mock := inference.NewMock(`{"Message":{"message_1":"hi"}}`)
	a := NewAgent(mock, "SYSTEM", WithJSONMode(true))

	reply, err := a.Query(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, `{"Message":{"message_1":"hi"}}`, reply)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSONMode)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, inference.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "SYSTEM", reqs[0].Messages[0].Content)
	assert.Equal(t, "hello", reqs[0].Messages[1].Content)

	assert.Len(t, a.History(DefaultSession), 2)
}

func TestAgent_HistoryPerSession(t *testing.T) {
	n := 0
	mock := &inference.Mock{ChatFunc: func(_ context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
		n++
		return &inference.ChatResponse{Message: inference.NewAssistantMessage(fmt.Sprintf("r%d", n))}, nil
	}}
	a := NewAgent(mock, "", WithMaxTurns(2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.Query(ctx, fmt.Sprintf("q%d", i), "a")
		require.NoError(t, err)
	}
	_, err := a.Query(ctx, "other", "b")
	require.NoError(t, err)

	hist := a.History("a")
	require.Len(t, hist, 4)
	assert.Equal(t, "q1", hist[0].Content)
	assert.Equal(t, "r3", hist[3].Content)
	assert.Len(t, a.History("b"), 2)

	// The fourth request on "a" carried the trimmed history plus the question.
	_, err = a.Query(ctx, "q3", "a")
	require.NoError(t, err)
	reqs := mock.Requests()
	last := reqs[len(reqs)-1]
	require.Len(t, last.Messages, 5)
	assert.Equal(t, "q1", last.Messages[0].Content)

	a.Clear()
	assert.Empty(t, a.History("a"))
}

func TestAgent_FailureLeavesHistory(t *testing.T) {
	boom := errors.New("rate limited")
	a := NewAgent(inference.WithError(boom), "S")

	_, err := a.Query(context.Background(), "hello", "s")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, a.History("s"))
}

func TestAgent_EmptyReply(t *testing.T) {
	a := NewAgent(inference.NewMock("   "), "")
	_, err := a.Query(context.Background(), "hello", "")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestAgent_NoHistory(t *testing.T) {
	a := NewAgent(inference.NewMock("x"), "", WithMaxTurns(0))
	_, err := a.Query(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Empty(t, a.History(DefaultSession))
}
