package speech

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// CommandEngine speaks by invoking an external TTS program with the text
// as its final argument ("espeak-ng" on Linux, "say" on macOS).
type CommandEngine struct {
	Command string
	Args    []string
}

// NewCommandEngine probes for the program and returns
// ErrServiceUnavailable when it is not installed, letting the caller
// degrade to print-only mode.
func NewCommandEngine(command string, args ...string) (*CommandEngine, error) {
	if command == "" {
		return nil, ErrServiceUnavailable
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, ErrServiceUnavailable
	}
	return &CommandEngine{Command: command, Args: args}, nil
}

// Say blocks until the utterance finishes or ctx expires.
func (e *CommandEngine) Say(ctx context.Context, text string) error {
	args := append(append([]string{}, e.Args...), text)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// CommandRecognizer captures one utterance by invoking an external STT
// program that prints the transcript on stdout. The phrase limit is
// passed through as a flag when configured.
type CommandRecognizer struct {
	Command string
	Args    []string
}

// NewCommandRecognizer probes for the program, mirroring NewCommandEngine.
func NewCommandRecognizer(command string, args ...string) (*CommandRecognizer, error) {
	if command == "" {
		return nil, ErrServiceUnavailable
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, ErrServiceUnavailable
	}
	return &CommandRecognizer{Command: command, Args: args}, nil
}

// Listen runs the recognizer under the listen timeout and maps its
// outcome onto the package error taxonomy.
func (r *CommandRecognizer) Listen(ctx context.Context, timeout, phraseLimit time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Stdout = &stdout

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", ErrNoSpeech
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		return "", ErrServiceUnavailable
	}

	transcript := strings.TrimSpace(stdout.String())
	if transcript == "" {
		return "", ErrUnintelligible
	}
	return strings.ToLower(transcript), nil
}
