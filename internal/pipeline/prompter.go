package pipeline

import (
	"context"
	"fmt"
	"io"

	"devassist/internal/executor"
	"devassist/internal/input"
	"devassist/internal/speech"
)

// Prompter asks the user a question mid-turn: the question is printed
// and fully spoken before the answer is read from the console. It
// serves the plan generator, the executor's prompt forwarding, and the
// debugging walk.
type Prompter struct {
	console *input.Console
	voice   *speech.Channel
	out     io.Writer
}

func NewPrompter(console *input.Console, voice *speech.Channel, out io.Writer) *Prompter {
	return &Prompter{console: console, voice: voice, out: out}
}

func (p *Prompter) Ask(ctx context.Context, question string) (string, error) {
	fmt.Fprintf(p.out, "%s ", question)
	if p.voice != nil {
		p.voice.SayWait(ctx, question)
	}
	return p.console.ReadLine(ctx)
}

// FixRunner lets the debugging walk run its automatic fix under the
// executor's usual timeout and streaming rules.
type FixRunner struct {
	exec *executor.Executor
}

func NewFixRunner(exec *executor.Executor) FixRunner {
	return FixRunner{exec: exec}
}

func (r FixRunner) RunFix(ctx context.Context, command string) (string, error) {
	res := r.exec.RunCommand(ctx, command)
	if res.TimedOut {
		return res.Output, fmt.Errorf("fix %q timed out", command)
	}
	return res.Output, res.Err
}
