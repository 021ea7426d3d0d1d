package input

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"devassist/internal/speech"
)

// scriptedRecognizer replays a fixed sequence of transcripts, blocking
// on ctx when the script is exhausted.
type scriptedRecognizer struct {
	mu      sync.Mutex
	script  []string
	delay   time.Duration
	release chan struct{} // closed when a Listen call is abandoned
}

func (r *scriptedRecognizer) Listen(ctx context.Context, _, _ time.Duration) (string, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			if r.release != nil {
				close(r.release)
			}
			return "", ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.script) == 0 {
		<-ctx.Done()
		if r.release != nil {
			close(r.release)
		}
		return "", ctx.Err()
	}
	next := r.script[0]
	r.script = r.script[1:]
	return next, nil
}

// newTestArbiter builds an arbiter with a silent speech channel. The
// caller must defer voice.Close() after its goleak defer so the worker
// goroutine is gone before leak verification runs.
func newTestArbiter(t *testing.T, console *Console, rec speech.Recognizer) (*Arbiter, *speech.Channel) {
	t.Helper()
	voice := speech.NewChannel(nil, zap.NewNop())
	arb := NewArbiter(console, rec, voice, Options{
		WakePhrase:    "listen assistant",
		ListenTimeout: time.Second,
		PhraseLimit:   time.Second,
	}, zap.NewNop())
	return arb, voice
}

func TestTextWinsRace(t *testing.T) {
	defer goleak.VerifyNone(t)

	console := NewConsole(strings.NewReader("list files\n"))
	released := make(chan struct{})
	rec := &scriptedRecognizer{release: released}
	arb, voice := newTestArbiter(t, console, rec)
	defer voice.Close()

	in, err := arb.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceText, in.Source)
	assert.Equal(t, "list files", in.Text)

	// The losing voice task must have been cancelled before Acquire returned.
	select {
	case <-released:
	default:
		t.Fatal("voice capture was not released")
	}
}

func TestVoiceWinsRace(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Console with no input: the text side blocks on EOF immediately.
	console := NewConsole(strings.NewReader(""))
	rec := &scriptedRecognizer{script: []string{"hey listen assistant", "push changes to git"}}
	arb, voice := newTestArbiter(t, console, rec)
	defer voice.Close()

	in, err := arb.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceVoice, in.Source)
	assert.Equal(t, "push changes to git", in.Text)
}

func TestVoiceIgnoresChatterBeforeWakePhrase(t *testing.T) {
	defer goleak.VerifyNone(t)

	console := NewConsole(strings.NewReader(""))
	rec := &scriptedRecognizer{script: []string{"random noise", "more noise", "listen assistant", "open test.py"}}
	arb, voice := newTestArbiter(t, console, rec)
	defer voice.Close()

	in, err := arb.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "open test.py", in.Text)
}

func TestEmptyTextLinesAreSkipped(t *testing.T) {
	defer goleak.VerifyNone(t)

	console := NewConsole(strings.NewReader("\n\n  \ngit status\n"))
	arb, voice := newTestArbiter(t, console, nil)
	defer voice.Close()

	in, err := arb.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "git status", in.Text)
}

func TestExactlyOneResultPerTurn(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Both sides can produce a result; exactly one is delivered.
	console := NewConsole(strings.NewReader("text input\n"))
	rec := &scriptedRecognizer{script: []string{"listen assistant", "voice input"}, delay: 5 * time.Millisecond}
	arb, voice := newTestArbiter(t, console, rec)
	defer voice.Close()

	in, err := arb.Acquire(context.Background())
	require.NoError(t, err)
	assert.Contains(t, []Source{SourceText, SourceVoice}, in.Source)
}

func TestAcquireIsNotReentrant(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	defer pw.Close()
	console := NewConsole(pr)
	arb, voice := newTestArbiter(t, console, nil)
	defer voice.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		close(started)
		arb.Acquire(ctx) //nolint:errcheck // cancelled below
		close(finished)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	_, err := arb.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	cancel()
	<-finished
	pw.Close()
	pr.Close()
	// Drain the console reader goroutine.
	_, _ = console.ReadLine(context.Background())
}

func TestExitControlWords(t *testing.T) {
	assert.True(t, RawInput{Text: "exit"}.IsExit())
	assert.True(t, RawInput{Text: "  Quit "}.IsExit())
	assert.False(t, RawInput{Text: "exit the venv"}.IsExit())

	assert.True(t, RawInput{Text: "done"}.IsEditorClose())
	assert.True(t, RawInput{Text: " Close "}.IsEditorClose())
	assert.False(t, RawInput{Text: "close the file"}.IsEditorClose())
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	console := NewConsole(pr)
	arb, voice := newTestArbiter(t, console, nil)
	defer voice.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := arb.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pw.Close()
	pr.Close()
	_, _ = console.ReadLine(context.Background())
}
