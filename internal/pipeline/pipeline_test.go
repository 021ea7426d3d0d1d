package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"devassist/internal/debug"
	"devassist/internal/executor"
	"devassist/internal/history"
	"devassist/internal/input"
	"devassist/internal/intent"
	"devassist/internal/plan"
)

// queueClient replays inference replies in call order.
type queueClient struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (q *queueClient) Complete(_ context.Context, _ string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if len(q.replies) == 0 {
		return "", errors.New("no scripted reply left")
	}
	r := q.replies[0]
	q.replies = q.replies[1:]
	return r, nil
}

// testHarness assembles a text-only pipeline around scripted inference.
type testHarness struct {
	pipeline *Pipeline
	out      *bytes.Buffer
	client   *queueClient
	store    *history.Store
}

func newHarness(t *testing.T, stdin string, replies ...string) *testHarness {
	t.Helper()
	var out bytes.Buffer
	logger := zaptest.NewLogger(t)
	client := &queueClient{replies: replies}

	console := input.NewConsole(strings.NewReader(stdin))
	arb := input.NewArbiter(console, nil, nil, input.Options{}, logger)

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	prompter := NewPrompter(console, nil, &out)
	exec := executor.New(executor.Options{
		Prompter: prompter,
		Stdout:   &out,
		Logger:   logger,
	})
	adv := debug.New(debug.Options{
		Out:    &out,
		Runner: NewFixRunner(exec),
		Asker:  prompter,
		Logger: logger,
	})

	p := New(Options{
		Arbiter:    arb,
		Classifier: intent.NewClassifier(client, runtime.GOOS, logger),
		Generator:  plan.NewGenerator(client, prompter, exec, runtime.GOOS, logger),
		Executor:   exec,
		Advisor:    adv,
		Store:      store,
		Out:        &out,
		Logger:     logger,
	})
	return &testHarness{pipeline: p, out: &out, client: client, store: store}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests drive sh directly")
	}
}

func TestTerminalCommandRoundTrip(t *testing.T) {
	requireShell(t)
	h := newHarness(t, "say hello on the terminal\n",
		`{"class": "terminal_command", "requires": {}}`,
		`{"commands": [{"command": "echo hello from the assistant", "description": "Print a greeting"}]}`,
	)

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again)

	text := h.out.String()
	assert.Contains(t, text, "That sounds like a terminal command.")
	assert.Contains(t, text, "hello from the assistant")

	turns, err := h.store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].Success)
	assert.Equal(t, "terminal_command", turns[0].Category)
	assert.Equal(t, "say hello on the terminal", turns[0].Query)
}

func TestExitEndsSession(t *testing.T) {
	h := newHarness(t, "exit\n")

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.False(t, again)
	assert.Contains(t, h.out.String(), "Goodbye.")
	assert.Zero(t, h.client.calls, "exit must not reach inference")
}

type closeCounter struct {
	closes int
	err    error
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.err
}

func TestDoneClosesEditorAndContinues(t *testing.T) {
	h := newHarness(t, "done\n")
	closer := &closeCounter{}
	h.pipeline.editor = closer

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again, "closing the editor keeps the session alive")
	assert.Equal(t, 1, closer.closes)
	assert.Contains(t, h.out.String(), "Closed the editor")
	assert.Zero(t, h.client.calls, "control words must not reach inference")

	turns, err := h.store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].Success)
}

func TestCloseWithoutEditorSession(t *testing.T) {
	h := newHarness(t, "close\n")

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again)
	assert.Contains(t, h.out.String(), "no editor session")
	assert.Zero(t, h.client.calls)
}

func TestEndOfInputEndsSession(t *testing.T) {
	h := newHarness(t, "")

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.False(t, again)
}

func TestClassificationErrorEndsTurn(t *testing.T) {
	h := newHarness(t, "garbled request\n", "this is not JSON at all")

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again)

	turns, err := h.store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.False(t, turns[0].Success)
	assert.Equal(t, string(intent.Error), turns[0].Category)
}

func TestMalformedPlanIsNeverExecuted(t *testing.T) {
	h := newHarness(t, "list my files\n",
		`{"class": "terminal_command", "requires": {}}`,
		`{"commands": []}`,
	)

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again)
	assert.Contains(t, h.out.String(), "malformed plan")

	turns, err := h.store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.False(t, turns[0].Success)
}

func TestGeneralQueryAnswerIsDelivered(t *testing.T) {
	h := newHarness(t, "what is a goroutine\n",
		`{"class": "general_query", "requires": {}}`,
		`{"answer": "A goroutine is a lightweight thread managed by the Go runtime."}`,
	)

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again)
	assert.Contains(t, h.out.String(), "lightweight thread")
}

func TestMissingFileShortCircuitsDebugging(t *testing.T) {
	requireShell(t)
	h := newHarness(t, "show that file\n",
		`{"class": "terminal_command", "requires": {}}`,
		`{"commands": [{"command": "cat /definitely/not/here.txt", "description": "Show the file"}]}`,
	)

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again)
	assert.Contains(t, h.out.String(), "does not exist")
	assert.Equal(t, 2, h.client.calls, "missing files must not trigger a diagnosis call")

	turns, err := h.store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.False(t, turns[0].Success)
}

func TestCommandFailureTriggersDebuggingWalk(t *testing.T) {
	requireShell(t)
	// Third reply diagnoses the failure; the user then stops the walk.
	h := newHarness(t, "run my script\nskip all\n",
		`{"class": "terminal_command", "requires": {}}`,
		`{"commands": [{"command": "echo broken >&2; exit 1", "description": "Run the script"}]}`,
		`{"error_category": "script failure", "probable_causes": ["the script exited with an error"],
		  "step_by_step_fix": ["Read the error output", "Fix the reported line", "Run it again"],
		  "suggested_fix": "Inspect the output.", "auto_fix_command": "",
		  "alternative_solutions": [], "preventive_measures": []}`,
	)

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again)

	text := h.out.String()
	assert.Contains(t, text, "script failure problem")
	assert.Contains(t, text, "Step 1 of 3")
	assert.Contains(t, text, "stopping there")
}

func TestTimeoutTriggersDebuggingWalk(t *testing.T) {
	requireShell(t)
	// Third reply diagnoses the timeout; the user then stops the walk.
	h := newHarness(t, "run the slow job\nskip all\n",
		`{"class": "terminal_command", "requires": {}}`,
		`{"commands": [{"command": "sleep 5", "description": "Run the slow job"}]}`,
		`{"error_category": "timeout", "probable_causes": ["the job ran longer than the limit"],
		  "step_by_step_fix": ["Raise the command timeout", "Run the job again"],
		  "suggested_fix": "Give the job more time.", "auto_fix_command": "",
		  "alternative_solutions": [], "preventive_measures": []}`,
	)
	h.pipeline.executor = executor.New(executor.Options{
		Stdout:         h.out,
		CommandTimeout: 200 * time.Millisecond,
		Logger:         zaptest.NewLogger(t),
	})

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again)

	assert.Equal(t, 3, h.client.calls, "a timed-out step must still be diagnosed")
	text := h.out.String()
	assert.Contains(t, text, "timeout problem")
	assert.Contains(t, text, "Step 1 of 2")
	assert.Contains(t, text, "stopping there")
}

func TestClarifyingQuestionFlowsThroughPrompter(t *testing.T) {
	requireShell(t)
	h := newHarness(t, "delete the branch\nthe feature branch\n",
		`{"class": "general_query", "requires": {"question": "Which branch do you mean?"}}`,
		`{"answer": "Use git branch -d to delete the feature branch once it is merged."}`,
	)

	again, err := h.pipeline.RunTurn(context.Background())
	require.NoError(t, err)
	assert.True(t, again)

	text := h.out.String()
	assert.Contains(t, text, "Which branch do you mean?")
	assert.Contains(t, text, "git branch -d")
}

func TestRunLoopsUntilExit(t *testing.T) {
	requireShell(t)
	h := newHarness(t, "what is sh\nexit\n",
		`{"class": "general_query", "requires": {}}`,
		`{"answer": "sh is the POSIX shell."}`,
	)

	require.NoError(t, h.pipeline.Run(context.Background()))
	text := h.out.String()
	assert.Contains(t, text, "POSIX shell")
	assert.Contains(t, text, "Goodbye.")
}
