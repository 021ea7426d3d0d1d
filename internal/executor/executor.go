// Package executor runs plan steps as shell commands with bounded
// timeouts, streaming output that is printed in full and spoken in
// summary, and interactive handling of prompts the command raises.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"devassist/internal/plan"
	"devassist/internal/speech"
)

// ErrUnsupportedPlan is returned for plan categories the executor does
// not run itself.
var ErrUnsupportedPlan = errors.New("executor: unsupported plan category")

// maxCapturedOutput bounds the per-step output kept for debugging
// context. Streaming to the terminal is never truncated.
const maxCapturedOutput = 64 << 10

// spokenLineLimit is how much of each output line gets read aloud.
const spokenLineLimit = 100

// probeTimeout bounds read-only context-gathering commands.
const probeTimeout = 10 * time.Second

// Prompter answers an interactive prompt raised by a running command.
type Prompter interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// FileHandler applies an editor operation and returns a spoken summary.
type FileHandler interface {
	Apply(ctx context.Context, op *plan.FileOp) (string, error)
}

// StepResult is the outcome of one executed command.
type StepResult struct {
	Command     string
	Description string
	Output      string
	TimedOut    bool
	Err         error
}

// Success reports whether the step completed with a zero exit status.
func (r StepResult) Success() bool {
	return r.Err == nil && !r.TimedOut
}

// Executor runs plans. All commands go through the platform shell so
// pipes and redirects behave the way the user typed them.
type Executor struct {
	voice    *speech.Channel
	prompter Prompter
	files    FileHandler
	timeout  time.Duration
	workDir  string
	stdout   io.Writer
	logger   *zap.Logger
}

// Options configures an Executor. Voice may be nil for print-only use.
type Options struct {
	Voice          *speech.Channel
	Prompter       Prompter
	Files          FileHandler
	CommandTimeout time.Duration
	WorkDir        string
	Stdout         io.Writer
	Logger         *zap.Logger
}

func New(opts Options) *Executor {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 15 * time.Second
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Executor{
		voice:    opts.Voice,
		prompter: opts.Prompter,
		files:    opts.Files,
		timeout:  opts.CommandTimeout,
		workDir:  opts.WorkDir,
		stdout:   opts.Stdout,
		logger:   opts.Logger,
	}
}

// Execute runs a terminal-command or file-query plan. Command steps run
// in order and stop at the first failure; the failed step's result is
// last in the returned slice.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) ([]StepResult, error) {
	switch {
	case len(p.Steps) > 0:
		return e.runSteps(ctx, p.Steps), nil
	case p.File != nil:
		return e.applyFile(ctx, p.File)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlan, p.Category)
	}
}

func (e *Executor) runSteps(ctx context.Context, steps []plan.Step) []StepResult {
	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		if len(steps) > 1 {
			e.say(fmt.Sprintf("Step %d: %s", i+1, step.Description))
		} else {
			e.say(step.Description)
		}
		fmt.Fprintf(e.stdout, "$ %s\n", step.Command)

		res := e.RunCommand(ctx, step.Command)
		res.Description = step.Description
		results = append(results, res)

		if !res.Success() {
			if res.TimedOut {
				e.say(fmt.Sprintf("The command timed out after %d seconds.", int(e.timeout.Seconds())))
			} else {
				e.say("The command failed.")
			}
			return results
		}
	}
	e.say("Done.")
	return results
}

func (e *Executor) applyFile(ctx context.Context, op *plan.FileOp) ([]StepResult, error) {
	if e.files == nil {
		return nil, fmt.Errorf("%w: no editor attached", ErrUnsupportedPlan)
	}
	summary, err := e.files.Apply(ctx, op)
	res := StepResult{
		Command:     fmt.Sprintf("%s %s", op.Action, op.Filename),
		Description: summary,
		Output:      summary,
		Err:         err,
	}
	if err != nil {
		e.say("The file operation failed.")
	} else {
		e.say(summary)
	}
	return []StepResult{res}, nil
}

// RunCommand runs one shell command with the configured timeout,
// streaming stdout and stderr concurrently. Lines are printed in full
// and spoken truncated; data that looks like an interactive prompt is
// forwarded to the prompter and the answer written to the command's
// stdin.
func (e *Executor) RunCommand(ctx context.Context, command string) StepResult {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := e.shellCommand(runCtx, command)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return StepResult{Command: command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return StepResult{Command: command, Err: err}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return StepResult{Command: command, Err: err}
	}

	e.logger.Debug("running command", zap.String("command", command))
	if err := cmd.Start(); err != nil {
		return StepResult{Command: command, Err: err}
	}

	st := &stream{exec: e, stdin: stdin}
	var g errgroup.Group
	g.Go(func() error { return st.pump(runCtx, stdout) })
	g.Go(func() error { return st.pump(runCtx, stderr) })
	if err := g.Wait(); err != nil {
		e.logger.Debug("output stream ended early", zap.Error(err))
	}
	stdin.Close()

	waitErr := cmd.Wait()
	res := StepResult{Command: command, Output: st.output(), Err: waitErr}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
	}
	return res
}

// stream serializes the two output pumps: chunks print, capture, and
// speak under one mutex so stdout and stderr lines never interleave
// mid-line and at most one prompt is being answered at a time.
type stream struct {
	exec  *Executor
	stdin io.Writer

	mu       sync.Mutex
	captured bytes.Buffer
}

// pump reads chunks until its pipe closes. Each chunk is a full line,
// or a partial line the split function judged to be a prompt awaiting
// input.
func (s *stream) pump(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	scanner.Split(promptSplit)

	for scanner.Scan() {
		s.deliver(ctx, scanner.Text())
	}
	return scanner.Err()
}

func (s *stream) deliver(ctx context.Context, chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.exec
	fmt.Fprintln(e.stdout, chunk)
	if s.captured.Len() < maxCapturedOutput {
		s.captured.WriteString(chunk)
		s.captured.WriteByte('\n')
	}
	if trimmed := strings.TrimSpace(chunk); trimmed != "" {
		e.say(speech.Truncate(trimmed, spokenLineLimit))
	}
	if LooksLikePrompt(chunk) {
		e.answerPrompt(ctx, chunk, s.stdin)
	}
}

func (s *stream) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captured.String()
}

func (e *Executor) answerPrompt(ctx context.Context, prompt string, stdin io.Writer) {
	if e.prompter == nil {
		e.logger.Warn("command raised a prompt with no prompter attached", zap.String("prompt", prompt))
		return
	}
	answer, err := e.prompter.Ask(ctx, strings.TrimSpace(prompt))
	if err != nil {
		e.logger.Warn("prompt went unanswered", zap.Error(err))
		return
	}
	if _, err := io.WriteString(stdin, answer+"\n"); err != nil {
		e.logger.Debug("stdin closed before answer landed", zap.Error(err))
	}
}

// Probe runs a read-only context-gathering command quietly: no speech,
// no prompt handling, shorter timeout. Satisfies the plan generator's
// prober contract.
func (e *Executor) Probe(ctx context.Context, command string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := e.shellCommand(runCtx, command)
	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return string(out), fmt.Errorf("probe %q timed out", command)
	}
	if err != nil {
		return string(out), fmt.Errorf("probe %q: %w", command, err)
	}
	return string(out), nil
}

func (e *Executor) shellCommand(ctx context.Context, command string) *exec.Cmd {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	cmd.Dir = e.workDir
	cmd.WaitDelay = 2 * time.Second
	return cmd
}

func (e *Executor) say(text string) {
	if e.voice != nil {
		e.voice.Say(text)
	}
}

// promptSplit is a bufio.SplitFunc that emits on newline like
// bufio.ScanLines, but also flushes a partial line once it looks like
// an interactive prompt, so the question can be answered before the
// command writes anything more.
func promptSplit(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, dropCR(data[:i]), nil
	}
	if atEOF {
		if len(data) == 0 {
			return 0, nil, nil
		}
		return len(data), dropCR(data), nil
	}
	if LooksLikePrompt(string(data)) {
		return len(data), dropCR(data), nil
	}
	return 0, nil, nil
}

func dropCR(data []byte) []byte {
	if n := len(data); n > 0 && data[n-1] == '\r' {
		return data[:n-1]
	}
	return data
}

// LooksLikePrompt reports whether text reads like a question awaiting
// input: it ends with ":" or "?", or carries a yes/no marker.
func LooksLikePrompt(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	lower := strings.ToLower(t)
	for _, marker := range []string{"[y/n]", "(y/n)", "[yes/no]", "(yes/no)", "[y/n/q]"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return strings.HasSuffix(t, ":") || strings.HasSuffix(t, "?")
}
