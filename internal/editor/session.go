// Package editor maintains one persistent Neovim session over its
// msgpack-RPC socket. Files open as buffers in that session and stay
// loaded across turns; every mutation is written to disk immediately.
package editor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/neovim/go-client/nvim"
	"go.uber.org/zap"

	"devassist/internal/plan"
)

var (
	// ErrInvalidLine means an insert position fell outside 1..len+1.
	ErrInvalidLine = errors.New("editor: line out of range")

	// ErrNotStarted means an operation ran before the session connected.
	ErrNotStarted = errors.New("editor: session not started")
)

// rpc is the slice of the Neovim API the session uses. *nvim.Nvim
// satisfies it; tests substitute an in-memory fake.
type rpc interface {
	Command(cmd string) error
	CurrentBuffer() (nvim.Buffer, error)
	BufferLineCount(buffer nvim.Buffer) (int, error)
	BufferLines(buffer nvim.Buffer, start, end int, strict bool) ([][]byte, error)
	SetBufferLines(buffer nvim.Buffer, start, end int, strict bool, replacement [][]byte) error
	CurrentWindow() (nvim.Window, error)
	SetWindowCursor(window nvim.Window, pos [2]int) error
	Close() error
}

// Session owns the editor process and its RPC connection. All methods
// serialize on one mutex; Neovim applies operations in call order.
type Session struct {
	mu     sync.Mutex
	conn   rpc
	proc   *exec.Cmd
	binary string
	socket string
	grace  time.Duration
	logger *zap.Logger
}

// Options configures a Session.
type Options struct {
	Binary    string
	Socket    string
	QuitGrace time.Duration
	Logger    *zap.Logger
}

func NewSession(opts Options) *Session {
	if opts.Binary == "" {
		opts.Binary = "nvim"
	}
	if opts.QuitGrace <= 0 {
		opts.QuitGrace = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		binary: opts.Binary,
		socket: opts.Socket,
		grace:  opts.QuitGrace,
		logger: opts.Logger,
	}
}

// Start connects to the editor socket, spawning a headless Neovim if
// nothing is listening yet. Calling Start on a live session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	if conn, err := nvim.Dial(s.socket); err == nil {
		s.logger.Info("attached to running editor", zap.String("socket", s.socket))
		s.conn = conn
		return nil
	}

	cmd := exec.Command(s.binary, "--headless", "--listen", s.socket)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("editor: start %s: %w", s.binary, err)
	}
	s.proc = cmd

	var lastErr error
	for i := 0; i < 50; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		conn, err := nvim.Dial(s.socket)
		if err == nil {
			s.logger.Info("editor started", zap.String("socket", s.socket), zap.Int("pid", cmd.Process.Pid))
			s.conn = conn
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("editor: socket %s never came up: %w", s.socket, lastErr)
}

// Open makes file the current buffer, loading it if needed, and
// returns its line count. Reopening an already loaded file just
// switches to its buffer.
func (s *Session) Open(ctx context.Context, file string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(ctx, file)
}

func (s *Session) openLocked(_ context.Context, file string) (int, error) {
	if s.conn == nil {
		return 0, ErrNotStarted
	}
	if err := s.conn.Command("edit " + escapeFile(file)); err != nil {
		return 0, fmt.Errorf("editor: open %s: %w", file, err)
	}
	buf, err := s.conn.CurrentBuffer()
	if err != nil {
		return 0, err
	}
	return s.conn.BufferLineCount(buf)
}

// InsertLine places content at the 1-based line position. Position
// len+1 appends after the last line; anything past that is ErrInvalidLine.
func (s *Session) InsertLine(ctx context.Context, file, content string, line int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, err := s.openLocked(ctx, file)
	if err != nil {
		return err
	}
	if line < 1 || line > total+1 {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidLine, line, total+1)
	}
	buf, err := s.conn.CurrentBuffer()
	if err != nil {
		return err
	}
	if err := s.conn.SetBufferLines(buf, line-1, line-1, true, [][]byte{[]byte(content)}); err != nil {
		return err
	}
	return s.write()
}

// Append adds content after the last line of file.
func (s *Session) Append(ctx context.Context, file, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, err := s.openLocked(ctx, file)
	if err != nil {
		return err
	}
	buf, err := s.conn.CurrentBuffer()
	if err != nil {
		return err
	}
	if err := s.conn.SetBufferLines(buf, total, total, true, [][]byte{[]byte(content)}); err != nil {
		return err
	}
	return s.write()
}

// FindAndSeek locates the first case-insensitive occurrence of target,
// moves the cursor there, and returns its 1-based line. A zero line
// with a nil error means the target is not in the file.
func (s *Session) FindAndSeek(ctx context.Context, file, target string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.openLocked(ctx, file); err != nil {
		return 0, err
	}
	buf, err := s.conn.CurrentBuffer()
	if err != nil {
		return 0, err
	}
	lines, err := s.conn.BufferLines(buf, 0, -1, true)
	if err != nil {
		return 0, err
	}

	needle := strings.ToLower(target)
	for i, raw := range lines {
		col := strings.Index(strings.ToLower(string(raw)), needle)
		if col < 0 {
			continue
		}
		win, err := s.conn.CurrentWindow()
		if err != nil {
			return 0, err
		}
		if err := s.conn.SetWindowCursor(win, [2]int{i + 1, col}); err != nil {
			return 0, err
		}
		return i + 1, nil
	}
	return 0, nil
}

// Replace substitutes old with new throughout file and returns how many
// occurrences changed. Matching is case-insensitive unless caseSensitive.
func (s *Session) Replace(ctx context.Context, file, old, new string, caseSensitive bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.openLocked(ctx, file); err != nil {
		return 0, err
	}
	buf, err := s.conn.CurrentBuffer()
	if err != nil {
		return 0, err
	}
	lines, err := s.conn.BufferLines(buf, 0, -1, true)
	if err != nil {
		return 0, err
	}

	total := 0
	changed := make([][]byte, len(lines))
	for i, raw := range lines {
		line, n := replaceAll(string(raw), old, new, caseSensitive)
		changed[i] = []byte(line)
		total += n
	}
	if total == 0 {
		return 0, nil
	}
	if err := s.conn.SetBufferLines(buf, 0, -1, true, changed); err != nil {
		return 0, err
	}
	if err := s.write(); err != nil {
		return 0, err
	}
	return total, nil
}

// Apply routes a plan file operation to the matching session method and
// returns a summary phrased for reading aloud. The editor starts on
// first use.
func (s *Session) Apply(ctx context.Context, op *plan.FileOp) (string, error) {
	if err := s.Start(ctx); err != nil {
		return "", err
	}
	switch op.Action {
	case plan.ActionOpen:
		n, err := s.Open(ctx, op.Filename)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Opened %s. It has %d %s.", op.Filename, n, pluralLines(n)), nil

	case plan.ActionInsert:
		if err := s.InsertLine(ctx, op.Filename, op.Content, op.Line); err != nil {
			return "", err
		}
		return fmt.Sprintf("Inserted the text at line %d of %s and saved.", op.Line, op.Filename), nil

	case plan.ActionAppend:
		if err := s.Append(ctx, op.Filename, op.Content); err != nil {
			return "", err
		}
		return fmt.Sprintf("Appended the text to the end of %s and saved.", op.Filename), nil

	case plan.ActionFind:
		line, err := s.FindAndSeek(ctx, op.Filename, op.Target)
		if err != nil {
			return "", err
		}
		if line == 0 {
			return fmt.Sprintf("I could not find %q in %s.", op.Target, op.Filename), nil
		}
		return fmt.Sprintf("Found %q on line %d of %s. The cursor is there now.", op.Target, line, op.Filename), nil

	case plan.ActionReplace:
		n, err := s.Replace(ctx, op.Filename, op.Old, op.New, op.CaseSensitive)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return fmt.Sprintf("I could not find %q in %s, so nothing changed.", op.Old, op.Filename), nil
		}
		return fmt.Sprintf("Replaced %d %s of %q in %s and saved.", n, pluralOccurrences(n), op.Old, op.Filename), nil

	default:
		return "", fmt.Errorf("editor: unknown action %q", op.Action)
	}
}

// Close asks the editor to save everything and quit, then reclaims the
// process if graceful shutdown overruns the grace period. Safe to call
// on a session that never started.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}

	if err := s.conn.Command("wqa!"); err != nil {
		s.logger.Warn("graceful editor quit failed", zap.Error(err))
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("editor connection close", zap.Error(err))
	}
	s.conn = nil

	if s.proc == nil {
		return nil
	}
	proc := s.proc
	s.proc = nil

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case <-done:
		return nil
	case <-time.After(s.grace):
		s.logger.Warn("editor ignored quit, killing", zap.Int("pid", proc.Process.Pid))
		if err := proc.Process.Kill(); err != nil {
			return err
		}
		<-done
		return nil
	}
}

func (s *Session) write() error {
	if err := s.conn.Command("write"); err != nil {
		return fmt.Errorf("editor: save: %w", err)
	}
	return nil
}

// escapeFile protects spaces and vim specials in a path handed to :edit.
func escapeFile(file string) string {
	r := strings.NewReplacer(" ", `\ `, "%", `\%`, "#", `\#`, "|", `\|`)
	return r.Replace(file)
}

// replaceAll rewrites every occurrence of old in line and reports the
// count. The case-insensitive path preserves the original casing of
// the untouched text around each match.
func replaceAll(line, old, new string, caseSensitive bool) (string, int) {
	if old == "" {
		return line, 0
	}
	if caseSensitive {
		n := strings.Count(line, old)
		if n == 0 {
			return line, 0
		}
		return strings.ReplaceAll(line, old, new), n
	}

	lower := strings.ToLower(line)
	needle := strings.ToLower(old)
	var b strings.Builder
	n := 0
	for {
		i := strings.Index(lower, needle)
		if i < 0 {
			b.WriteString(line)
			return b.String(), n
		}
		b.WriteString(line[:i])
		b.WriteString(new)
		line = line[i+len(old):]
		lower = lower[i+len(needle):]
		n++
	}
}

func pluralLines(n int) string {
	if n == 1 {
		return "line"
	}
	return "lines"
}

func pluralOccurrences(n int) string {
	if n == 1 {
		return "occurrence"
	}
	return "occurrences"
}
