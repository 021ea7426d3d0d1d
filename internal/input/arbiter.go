package input

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"devassist/internal/speech"
)

// Source identifies which capture task produced an input.
type Source string

const (
	SourceVoice Source = "voice"
	SourceText  Source = "text"
)

// RawInput is one user instruction, consumed exactly once by the
// classifier and then discarded.
type RawInput struct {
	Source Source
	Text   string
	At     time.Time
}

// IsExit reports the control words that terminate the REPL.
func (r RawInput) IsExit() bool {
	switch strings.ToLower(strings.TrimSpace(r.Text)) {
	case "exit", "quit":
		return true
	}
	return false
}

// IsEditorClose reports the control words that close the editor
// session without ending the REPL.
func (r RawInput) IsEditorClose() bool {
	switch strings.ToLower(strings.TrimSpace(r.Text)) {
	case "done", "close":
		return true
	}
	return false
}

// ErrBusy is returned when Acquire is called while a previous call is
// still in flight; the arbiter supports one acquisition at a time.
var ErrBusy = errors.New("input: acquire already in flight")

// Arbiter races voice and text capture and yields the first non-empty
// result, cancelling the loser. A nil recognizer degrades to text-only.
type Arbiter struct {
	console    *Console
	recognizer speech.Recognizer
	voice      *speech.Channel
	logger     *zap.Logger

	wakePhrase    string
	listenTimeout time.Duration
	phraseLimit   time.Duration

	inFlight atomic.Bool
}

// Options configures an Arbiter.
type Options struct {
	WakePhrase    string
	ListenTimeout time.Duration
	PhraseLimit   time.Duration
}

// NewArbiter wires the capture sources. voice is the feedback channel
// used for capture prompts ("yes, I'm listening"); it is muted while
// the user is being transcribed so the assistant does not talk over
// them.
func NewArbiter(console *Console, recognizer speech.Recognizer, voice *speech.Channel, opts Options, logger *zap.Logger) *Arbiter {
	return &Arbiter{
		console:       console,
		recognizer:    recognizer,
		voice:         voice,
		logger:        logger,
		wakePhrase:    strings.ToLower(opts.WakePhrase),
		listenTimeout: opts.ListenTimeout,
		phraseLimit:   opts.PhraseLimit,
	}
}

// Acquire blocks until one capture task produces a non-empty input,
// cancels the other task, waits for it to release its resources, and
// returns the winner. Exit words arrive as ordinary RawInput values.
func (a *Arbiter) Acquire(ctx context.Context) (RawInput, error) {
	if !a.inFlight.CompareAndSwap(false, true) {
		return RawInput{}, ErrBusy
	}
	defer a.inFlight.Store(false)

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan RawInput, 2)
	errs := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.captureText(raceCtx, results, errs)
	}()

	if a.recognizer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.captureVoice(raceCtx, results, errs)
		}()
	}

	// Collector: close the barrier once both tasks have returned, so a
	// task failure (EOF, dead microphone) is distinguishable from a
	// still-pending capture.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var lastErr error
	for {
		select {
		case in := <-results:
			cancel()
			wg.Wait() // loser must release microphone/pending read before we return
			return in, nil
		case err := <-errs:
			lastErr = err
		case <-done:
			// Drain any result that raced the waitgroup.
			select {
			case in := <-results:
				return in, nil
			default:
			}
			if lastErr != nil {
				return RawInput{}, lastErr
			}
			return RawInput{}, ctx.Err()
		case <-ctx.Done():
			cancel()
			wg.Wait()
			return RawInput{}, ctx.Err()
		}
	}
}

// captureText blocks on the console until a non-empty line arrives.
func (a *Arbiter) captureText(ctx context.Context, results chan<- RawInput, errs chan<- error) {
	for {
		line, err := a.console.ReadLine(ctx)
		if err != nil {
			if ctx.Err() == nil {
				errs <- err
			}
			return
		}
		if line == "" {
			continue
		}
		results <- RawInput{Source: SourceText, Text: line, At: time.Now()}
		return
	}
}

// captureVoice listens for the wake phrase, then captures one command.
// Recognition failures short of a dead service loop back to the wake
// phrase; an unavailable service abandons the voice side for this turn.
func (a *Arbiter) captureVoice(ctx context.Context, results chan<- RawInput, errs chan<- error) {
	for ctx.Err() == nil {
		if a.wakePhrase != "" {
			heard, err := a.recognizer.Listen(ctx, a.listenTimeout, 0)
			if err != nil {
				if a.voiceCaptureFailed(ctx, err, errs) {
					return
				}
				continue
			}
			if !strings.Contains(strings.ToLower(heard), a.wakePhrase) {
				continue
			}
			a.voice.Say("Yes, I'm listening.")
		}

		// Transcribing now: suppress assistant speech until resolved.
		a.voice.SetMuted(true)
		command, err := a.recognizer.Listen(ctx, a.listenTimeout, a.phraseLimit)
		a.voice.SetMuted(false)
		if err != nil {
			if a.voiceCaptureFailed(ctx, err, errs) {
				return
			}
			continue
		}
		if strings.TrimSpace(command) == "" {
			continue
		}
		results <- RawInput{Source: SourceVoice, Text: command, At: time.Now()}
		return
	}
}

// voiceCaptureFailed reports whether the voice task should give up.
func (a *Arbiter) voiceCaptureFailed(ctx context.Context, err error, errs chan<- error) bool {
	switch {
	case ctx.Err() != nil:
		return true
	case errors.Is(err, speech.ErrServiceUnavailable):
		a.logger.Warn("speech recognition unavailable, degrading to text input", zap.Error(err))
		errs <- err
		return true
	case errors.Is(err, speech.ErrNoSpeech):
		return false
	case errors.Is(err, speech.ErrUnintelligible):
		a.voice.Say("Sorry, I could not understand that.")
		return false
	default:
		a.logger.Warn("voice capture error", zap.Error(err))
		return false
	}
}
