package speech

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// recordingEngine captures spoken text for assertions.
type recordingEngine struct {
	mu     sync.Mutex
	spoken []string
}

func (e *recordingEngine) Say(_ context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spoken = append(e.spoken, text)
	return nil
}

func (e *recordingEngine) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.spoken...)
}

func TestChannelSpeaksInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := &recordingEngine{}
	ch := NewChannel(engine, zap.NewNop())

	ch.Say("first")
	ch.Say("second")
	ch.Say("third")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch.Flush(ctx)
	ch.Close()

	require.Equal(t, []string{"first", "second", "third"}, engine.all())
}

func TestChannelMutedSkipsUtterances(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := &recordingEngine{}
	ch := NewChannel(engine, zap.NewNop())
	ch.SetMuted(true)

	ch.Say("should be skipped")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch.Flush(ctx)
	ch.Close()

	assert.Empty(t, engine.all())
}

func TestNilEngineIsSilentNoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := NewChannel(nil, zap.NewNop())
	ch.Say("nothing happens")
	ch.Close()
}

func TestSayNeverBlocksWhenQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Engine that blocks until released, so the queue backs up.
	release := make(chan struct{})
	blocking := engineFunc(func(ctx context.Context, _ string) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	ch := NewChannel(blocking, zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			ch.Say("filler")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Say blocked with a full queue")
	}
	close(release)
	ch.Close()
}

func TestFlushWaitsForInFlightUtterance(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	release := make(chan struct{})
	gated := engineFunc(func(ctx context.Context, _ string) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	ch := NewChannel(gated, zap.NewNop())
	ch.Say("which file do you mean?")
	<-started // worker has dequeued, queue is empty but speech is mid-flight

	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ch.Flush(ctx)
	}()

	select {
	case <-flushed:
		t.Fatal("Flush returned while the engine was still speaking")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("Flush did not return after the utterance finished")
	}
	ch.Close()
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))
	assert.Len(t, Truncate(string(make([]byte, 500)), 100), 100)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	// "héllo" is 6 bytes; cutting at 2 would land inside the é.
	assert.Equal(t, "h", Truncate("héllo", 2))
	assert.Equal(t, "hé", Truncate("héllo", 3))
	assert.True(t, utf8.ValidString(Truncate("naïve über café résumé", 10)))
	assert.True(t, utf8.ValidString(Truncate(strings.Repeat("日本語", 50), 100)))
}

type engineFunc func(ctx context.Context, text string) error

func (f engineFunc) Say(ctx context.Context, text string) error { return f(ctx, text) }
