// Package debug walks the user through a structured remediation plan
// after a command fails: an optional one-shot automatic fix, then a
// consent-driven step-by-step walk, then alternatives and prevention.
package debug

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"devassist/internal/plan"
	"devassist/internal/speech"
)

// Result classifies how a debugging walk ended.
type Result string

const (
	// ResultFixApplied means the automatic fix ran and succeeded.
	ResultFixApplied Result = "fix_applied"

	// ResultAdviceOnly means guidance was delivered step by step.
	ResultAdviceOnly Result = "advice_only"

	// ResultAborted means the user stopped the walk early.
	ResultAborted Result = "aborted"
)

// Outcome records how far a debugging walk got.
type Outcome struct {
	Result        Result
	StepsAccepted int
	AutoFixOutput string
}

// Runner executes a fix command under the usual execution limits and
// reports its output and whether it succeeded.
type Runner interface {
	RunFix(ctx context.Context, command string) (output string, err error)
}

// Asker puts a question to the user and returns the raw answer.
type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Advisor delivers debugging suggestions interactively. Every piece of
// guidance is both printed and spoken.
type Advisor struct {
	voice  *speech.Channel
	out    io.Writer
	runner Runner
	asker  Asker
	logger *zap.Logger
}

// Options configures an Advisor. Voice may be nil for print-only use.
type Options struct {
	Voice  *speech.Channel
	Out    io.Writer
	Runner Runner
	Asker  Asker
	Logger *zap.Logger
}

func New(opts Options) *Advisor {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Advisor{
		voice:  opts.Voice,
		out:    opts.Out,
		runner: opts.Runner,
		asker:  opts.Asker,
		logger: opts.Logger,
	}
}

// IsMissingFile reports whether output is a plain missing-file error.
// Those get a short spoken explanation instead of a debugging walk.
func IsMissingFile(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "cannot find the path specified") ||
		strings.Contains(lower, "cannot find the file specified")
}

// Walk delivers the suggestion. It announces the diagnosis, offers the
// automatic fix when one exists, then walks the fix steps one at a
// time with the user's consent before each.
func (a *Advisor) Walk(ctx context.Context, sug *plan.DebugSuggestion) (Outcome, error) {
	a.tell(fmt.Sprintf("This looks like a %s problem.", orUnknown(sug.ErrorCategory)))
	for _, cause := range sug.ProbableCauses {
		a.tell("Possible cause: " + cause)
	}

	if cmd := strings.TrimSpace(sug.AutoFixCommand); cmd != "" && a.runner != nil {
		out, applied, err := a.offerAutoFix(ctx, cmd)
		if err != nil {
			return Outcome{Result: ResultAborted}, err
		}
		if applied {
			return Outcome{Result: ResultFixApplied, AutoFixOutput: out}, nil
		}
	}

	accepted, aborted, err := a.walkSteps(ctx, sug.StepByStepFix)
	if err != nil {
		return Outcome{Result: ResultAborted, StepsAccepted: accepted}, err
	}
	if aborted {
		a.tell("Okay, stopping there.")
		return Outcome{Result: ResultAborted, StepsAccepted: accepted}, nil
	}

	if len(sug.AlternativeSolutions) > 0 {
		a.tell("If that does not work, you could also try:")
		for _, alt := range sug.AlternativeSolutions {
			a.tell(alt)
		}
	}
	if len(sug.PreventiveMeasures) > 0 {
		a.tell("To avoid this in the future:")
		for _, m := range sug.PreventiveMeasures {
			a.tell(m)
		}
	}
	return Outcome{Result: ResultAdviceOnly, StepsAccepted: accepted}, nil
}

// offerAutoFix asks for consent and runs the fix. Returns applied=true
// only when the fix ran and succeeded; a declined or failed fix falls
// through to the step walk.
func (a *Advisor) offerAutoFix(ctx context.Context, cmd string) (string, bool, error) {
	answer, err := a.ask(ctx, fmt.Sprintf("I can try to fix this by running: %s. Should I?", cmd))
	if err != nil {
		return "", false, err
	}
	if !isYes(answer) {
		a.tell("Okay, I will walk you through it instead.")
		return "", false, nil
	}

	a.tell("Running the fix now.")
	out, err := a.runner.RunFix(ctx, cmd)
	if err != nil {
		a.logger.Warn("automatic fix failed", zap.String("command", cmd), zap.Error(err))
		a.tell("The automatic fix did not work. Let's go step by step.")
		return out, false, nil
	}
	a.tell("The fix succeeded.")
	return out, true, nil
}

// walkSteps reads steps aloud one at a time. After each step the user
// chooses: yes reads the next step, no skips over it, "skip all" or
// "stop" ends the walk. accepted counts the steps actually read.
func (a *Advisor) walkSteps(ctx context.Context, steps []string) (accepted int, aborted bool, err error) {
	i := 0
	for i < len(steps) {
		a.tell(fmt.Sprintf("Step %d of %d: %s", i+1, len(steps), steps[i]))
		accepted++
		if i == len(steps)-1 {
			break
		}
		answer, err := a.ask(ctx, "Say yes for the next step, no to skip it, or skip all to stop.")
		if err != nil {
			return accepted, false, err
		}
		switch {
		case isAbort(answer):
			return accepted, true, nil
		case isYes(answer):
			i++
		default:
			i += 2
		}
	}
	if len(steps) > 0 {
		a.tell("That is every step.")
	}
	return accepted, false, nil
}

func (a *Advisor) ask(ctx context.Context, prompt string) (string, error) {
	if a.asker == nil {
		return "", fmt.Errorf("debug: no way to ask %q", prompt)
	}
	return a.asker.Ask(ctx, prompt)
}

func (a *Advisor) tell(text string) {
	fmt.Fprintln(a.out, text)
	if a.voice != nil {
		a.voice.Say(text)
	}
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y", "yeah", "yep", "sure", "ok", "okay":
		return true
	}
	return false
}

func isAbort(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "skip all", "stop", "cancel", "quit":
		return true
	}
	return false
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "general"
	}
	return s
}
