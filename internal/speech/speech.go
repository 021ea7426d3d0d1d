// Package speech provides spoken feedback for accessibility.
//
// A single consumer goroutine drains a multi-producer queue so utterances
// never interleave and producers never block on the TTS engine. The engine
// and recognizer backends are external collaborators reached through small
// interfaces; the defaults shell out to platform tools.
package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Backend failure modes surfaced to callers.
var (
	// ErrNoSpeech means the listen window elapsed without any utterance.
	ErrNoSpeech = errors.New("speech: no speech detected")

	// ErrUnintelligible means audio was captured but not recognized.
	ErrUnintelligible = errors.New("speech: could not understand audio")

	// ErrServiceUnavailable means the backend program or service is unreachable.
	ErrServiceUnavailable = errors.New("speech: service unavailable")
)

// Engine is the text-to-speech collaborator boundary.
type Engine interface {
	Say(ctx context.Context, text string) error
}

// Recognizer is the speech-to-text collaborator boundary.
type Recognizer interface {
	Listen(ctx context.Context, timeout, phraseLimit time.Duration) (string, error)
}

// Channel serializes spoken output. Producers call Say and move on;
// the worker goroutine feeds the engine one utterance at a time.
type Channel struct {
	engine Engine
	logger *zap.Logger

	queue   chan string
	pending atomic.Int64
	muted   atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewChannel starts the speech worker. A nil engine yields a silent
// channel: Say becomes a no-op and the caller's printed output is the
// only feedback (degraded mode, see ErrServiceUnavailable handling).
func NewChannel(engine Engine, logger *zap.Logger) *Channel {
	c := &Channel{
		engine: engine,
		logger: logger,
		queue:  make(chan string, 64),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.worker()
	return c
}

// Say queues text for speaking. It never blocks: when the queue is full
// the utterance is dropped with a log entry rather than stalling the
// pipeline.
func (c *Channel) Say(text string) {
	if text == "" || c.engine == nil {
		return
	}
	c.pending.Add(1)
	select {
	case c.queue <- text:
	case <-c.done:
		c.pending.Add(-1)
	default:
		c.pending.Add(-1)
		c.logger.Debug("speech queue full, dropping utterance", zap.Int("len", len(text)))
	}
}

// SayWait queues text and blocks until the worker has spoken everything
// queued so far. Used only where a prompt requires the user to have
// heard the question before answering.
func (c *Channel) SayWait(ctx context.Context, text string) {
	c.Say(text)
	c.Flush(ctx)
}

// Flush blocks until every queued utterance has been spoken, including
// the one the worker is currently feeding to the engine, or ctx expires.
func (c *Channel) Flush(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if c.pending.Load() == 0 {
				return
			}
		}
	}
}

// SetMuted suppresses output while the user is speaking or typing so
// the assistant does not talk over them. Queued utterances are skipped,
// not buffered.
func (c *Channel) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// Close stops the worker after the in-flight utterance. Pending queue
// entries are discarded.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

func (c *Channel) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case text := <-c.queue:
			if !c.muted.Load() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				err := c.engine.Say(ctx, text)
				cancel()
				if err != nil {
					c.logger.Warn("tts engine failed, output is print-only for this utterance", zap.Error(err))
				}
			}
			c.pending.Add(-1)
		}
	}
}

// Truncate shortens text to a speakable prefix. Long command output is
// printed in full but only the head is read aloud. The cut backs up to
// a rune boundary so the engine never receives a split UTF-8 sequence.
func Truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
