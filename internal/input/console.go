// Package input acquires one user instruction per turn by racing a
// voice capture task against a text capture task.
package input

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// Console owns the process's line-oriented text input. A single reader
// goroutine feeds a channel so that a capture task abandoned mid-read
// does not strand buffered bytes or leave a second reader fighting over
// stdin; the next consumer simply receives the next line.
type Console struct {
	lines chan string

	mu     sync.Mutex
	ioErr  error
	closed bool
}

// NewConsole starts the reader goroutine. The goroutine runs until r
// reaches EOF or fails; callers observe that through ReadLine.
func NewConsole(r io.Reader) *Console {
	c := &Console{lines: make(chan string)}
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
		c.mu.Lock()
		c.closed = true
		if err := scanner.Err(); err != nil {
			c.ioErr = err
		} else {
			c.ioErr = io.EOF
		}
		c.mu.Unlock()
		close(c.lines)
	}()
	return c
}

// ReadLine blocks for the next line or ctx cancellation. A cancelled
// read leaves the line for the next caller.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", c.err()
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Console) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ioErr != nil {
		return c.ioErr
	}
	return io.EOF
}
