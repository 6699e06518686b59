package executor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(maxLines int) *Executor {
	return New(maxLines, slog.New(slog.DiscardHandler))
}

// collect drains a line channel into a slice on a separate goroutine,
// the way the queue's log writer does.
func collect(lines <-chan string) <-chan []string {
	out := make(chan []string, 1)
	go func() {
		var all []string
		for line := range lines {
			all = append(all, line)
		}
		out <- all
	}()
	return out
}

func TestRunStreamsMergedOutputInOrder(t *testing.T) {
	e := newTestExecutor(100)

	stream := make(chan string, 16)
	streamed := collect(stream)
	lines, code, err := e.Run(context.Background(),
		[]string{"sh", "-c", "echo one; echo two 1>&2; echo three"},
		nil, stream)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
	assert.Equal(t, lines, <-streamed)
}

func TestRunNonzeroExitIsNotAnError(t *testing.T) {
	e := newTestExecutor(100)

	lines, code, err := e.Run(context.Background(),
		[]string{"sh", "-c", "echo failing; exit 3"}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, []string{"failing"}, lines)
}

func TestRunBuffersTailWhenOverCap(t *testing.T) {
	e := newTestExecutor(3)

	stream := make(chan string, 16)
	streamed := collect(stream)
	lines, code, err := e.Run(context.Background(),
		[]string{"sh", "-c", "for i in 1 2 3 4 5; do echo $i; done"},
		nil, stream)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	// The buffer keeps the newest lines; the channel saw every line.
	assert.Equal(t, []string{"3", "4", "5"}, lines)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, <-streamed)
}

func TestRunClosesChannelOnSpawnFailure(t *testing.T) {
	e := newTestExecutor(100)

	stream := make(chan string, 16)
	_, code, err := e.Run(context.Background(),
		[]string{"definitely-not-a-real-binary-8a1f"}, nil, stream)

	require.Error(t, err)
	assert.Equal(t, -1, code)

	select {
	case _, ok := <-stream:
		assert.False(t, ok, "channel should be closed without lines")
	case <-time.After(time.Second):
		t.Fatal("channel left open after spawn failure")
	}
}

func TestRunInjectsEnvironment(t *testing.T) {
	e := newTestExecutor(100)

	lines, code, err := e.Run(context.Background(),
		[]string{"sh", "-c", "echo $FPL_TEAM_ID:$AIRSENAL_DB_FILE"},
		map[string]string{"FPL_TEAM_ID": "123456", "AIRSENAL_DB_FILE": "/tmp/t.db"},
		nil)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"123456:/tmp/t.db"}, lines)
}

func TestRunEmptyCommand(t *testing.T) {
	e := newTestExecutor(100)
	_, _, err := e.Run(context.Background(), nil, nil, nil)
	require.Error(t, err)
}

func TestRunCancellationTerminatesProcess(t *testing.T) {
	e := newTestExecutor(100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := make(chan string, 16)
	go func() {
		for line := range stream {
			if line == "started" {
				cancel()
			}
		}
	}()

	start := time.Now()
	lines, _, err := e.Run(ctx,
		[]string{"sh", "-c", "echo started; sleep 30"},
		nil, stream)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, lines, "started")
	assert.Less(t, time.Since(start), 10*time.Second, "cancel must not wait for the sleep")
}

func TestTerminateWithoutProcessIsSafe(t *testing.T) {
	e := newTestExecutor(100)
	e.Terminate()
	e.Terminate()
}

func TestSanitizeLine(t *testing.T) {
	assert.Equal(t, "bad�byte", sanitizeLine("bad\xffbyte"))
	assert.Equal(t, "trimmed", sanitizeLine("trimmed   \t"))
	assert.Equal(t, "kept  inner", sanitizeLine("kept  inner\r"))
}

func TestLineRing(t *testing.T) {
	r := newLineRing(3)
	assert.Empty(t, r.snapshot())

	r.push("a")
	r.push("b")
	assert.Equal(t, []string{"a", "b"}, r.snapshot())

	r.push("c")
	r.push("d")
	r.push("e")
	assert.Equal(t, []string{"c", "d", "e"}, r.snapshot())
}
