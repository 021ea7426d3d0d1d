// Package pipeline drives one assistant turn end to end: acquire
// input, classify it, generate a plan, execute it, and debug failures,
// with every user-facing message both printed and spoken.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"devassist/internal/debug"
	"devassist/internal/executor"
	"devassist/internal/history"
	"devassist/internal/input"
	"devassist/internal/intent"
	"devassist/internal/plan"
	"devassist/internal/speech"
)

// Pipeline owns a session's components. One turn runs at a time.
type Pipeline struct {
	arbiter    *input.Arbiter
	voice      *speech.Channel
	classifier *intent.Classifier
	generator  *plan.Generator
	executor   *executor.Executor
	advisor    *debug.Advisor
	store      *history.Store
	editor     io.Closer
	out        io.Writer
	logger     *zap.Logger
}

// Options wires a Pipeline. Voice and Store may be nil; everything
// else is required.
type Options struct {
	Arbiter    *input.Arbiter
	Voice      *speech.Channel
	Classifier *intent.Classifier
	Generator  *plan.Generator
	Executor   *executor.Executor
	Advisor    *debug.Advisor
	Store      *history.Store
	Editor     io.Closer
	Out        io.Writer
	Logger     *zap.Logger
}

func New(opts Options) *Pipeline {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		arbiter:    opts.Arbiter,
		voice:      opts.Voice,
		classifier: opts.Classifier,
		generator:  opts.Generator,
		executor:   opts.Executor,
		advisor:    opts.Advisor,
		store:      opts.Store,
		editor:     opts.Editor,
		out:        opts.Out,
		logger:     opts.Logger,
	}
}

// Run loops turns until the user exits or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.tell("DevAssist is ready. Type a request, or say the wake phrase.")
	for {
		again, err := p.RunTurn(ctx)
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
}

// RunTurn handles exactly one interaction. It returns false when the
// session should end.
func (p *Pipeline) RunTurn(ctx context.Context) (bool, error) {
	raw, err := p.arbiter.Acquire(ctx)
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, io.EOF):
		return false, nil
	case err != nil:
		return false, err
	}

	if raw.IsExit() {
		p.tell("Goodbye.")
		p.flush(ctx)
		return false, nil
	}
	if raw.IsEditorClose() {
		p.closeEditor(ctx, raw)
		return true, nil
	}
	if raw.Source == input.SourceVoice {
		p.tell("You said: " + raw.Text)
	}

	it := p.classifier.Classify(ctx, raw.Text)
	if it.Category == intent.Error {
		msg := it.Message()
		if msg == "" {
			msg = "Sorry, I could not understand that request."
		}
		p.tell(msg)
		p.record(ctx, raw, it.Category, msg, false)
		return true, nil
	}
	p.announce(it.Category)

	pl, err := p.generator.Generate(ctx, raw.Text, it)
	if err != nil {
		msg := planErrorMessage(err)
		p.tell(msg)
		p.logger.Warn("plan generation failed", zap.String("query", raw.Text), zap.Error(err))
		p.record(ctx, raw, it.Category, msg, false)
		return true, nil
	}

	response, ok := p.carryOut(ctx, pl)
	p.record(ctx, raw, it.Category, response, ok)
	return true, nil
}

// carryOut runs the category-shaped plan and returns a transcript
// summary plus whether the turn succeeded.
func (p *Pipeline) carryOut(ctx context.Context, pl *plan.Plan) (string, bool) {
	switch {
	case pl.Answer != "":
		p.tell(pl.Answer)
		return pl.Answer, true

	case pl.Debug != nil:
		outcome, err := p.advisor.Walk(ctx, pl.Debug)
		if err != nil {
			p.logger.Warn("debugging walk failed", zap.Error(err))
			return "debugging walk failed", false
		}
		return fmt.Sprintf("debugging: %s after %d steps", outcome.Result, outcome.StepsAccepted), true

	default:
		results, err := p.executor.Execute(ctx, pl)
		if err != nil {
			p.tell("I could not run that plan.")
			p.logger.Warn("execution failed", zap.Error(err))
			return err.Error(), false
		}
		last := results[len(results)-1]
		if last.Success() {
			return summarize(results), true
		}
		p.handleFailure(ctx, last)
		return summarize(results), false
	}
}

// handleFailure routes a failed step to the missing-file shortcut or a
// full debugging walk with a fresh diagnosis.
func (p *Pipeline) handleFailure(ctx context.Context, failed executor.StepResult) {
	if debug.IsMissingFile(failed.Output) {
		p.tell("That file or directory does not exist. Check the name and try again.")
		return
	}
	query := fmt.Sprintf("The command %q failed with this output:\n%s", failed.Command, failed.Output)
	if failed.TimedOut {
		query = fmt.Sprintf("The command %q timed out before finishing. Partial output:\n%s", failed.Command, failed.Output)
	}
	pl, err := p.generator.Generate(ctx, query, intent.Intent{Category: intent.Debugging})
	if err != nil {
		p.tell("The command failed and I could not work out why.")
		p.logger.Warn("failure diagnosis failed", zap.Error(err))
		return
	}
	if _, err := p.advisor.Walk(ctx, pl.Debug); err != nil {
		p.logger.Warn("debugging walk failed", zap.Error(err))
	}
}

func (p *Pipeline) announce(cat intent.Category) {
	switch cat {
	case intent.TerminalCommand:
		p.tell("That sounds like a terminal command.")
	case intent.FileQuery:
		p.tell("That sounds like a file operation.")
	case intent.Debugging:
		p.tell("Let's debug that.")
	case intent.GeneralQuery:
		p.tell("Let me answer that.")
	}
}

func (p *Pipeline) closeEditor(ctx context.Context, raw input.RawInput) {
	if p.editor == nil {
		p.tell("There is no editor session to close.")
		return
	}
	msg := "Closed the editor and saved your files."
	ok := true
	if err := p.editor.Close(); err != nil {
		p.logger.Warn("editor close failed", zap.Error(err))
		msg = "The editor did not shut down cleanly."
		ok = false
	}
	p.tell(msg)
	p.record(ctx, raw, intent.FileQuery, msg, ok)
}

func (p *Pipeline) record(ctx context.Context, raw input.RawInput, cat intent.Category, response string, ok bool) {
	if p.store == nil {
		return
	}
	_, err := p.store.Record(ctx, history.Turn{
		At:       raw.At,
		Source:   string(raw.Source),
		Query:    raw.Text,
		Category: string(cat),
		Response: speech.Truncate(response, 500),
		Success:  ok,
	})
	if err != nil {
		p.logger.Warn("transcript write failed", zap.Error(err))
	}
}

func (p *Pipeline) tell(text string) {
	fmt.Fprintln(p.out, text)
	if p.voice != nil {
		p.voice.Say(text)
	}
}

func (p *Pipeline) flush(ctx context.Context) {
	if p.voice != nil {
		p.voice.Flush(ctx)
	}
}

func planErrorMessage(err error) string {
	switch {
	case errors.Is(err, plan.ErrPrerequisite):
		return "I could not gather the context that request needs."
	case errors.Is(err, plan.ErrSchema):
		return "I got a malformed plan back, so I will not run it. Please try rephrasing."
	case errors.Is(err, plan.ErrInference):
		return "The language service is unavailable right now. Please try again shortly."
	default:
		return "Something went wrong while planning that request."
	}
}

func summarize(results []executor.StepResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("; ")
		}
		status := "ok"
		if r.TimedOut {
			status = "timed out"
		} else if r.Err != nil {
			status = "failed"
		}
		fmt.Fprintf(&b, "%s: %s", r.Command, status)
	}
	return b.String()
}
