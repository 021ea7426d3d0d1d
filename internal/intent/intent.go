// Package intent classifies free-form user text into a typed intent.
package intent

import "fmt"

// Category is the closed set of intent classes.
type Category string

const (
	GeneralQuery    Category = "general_query"
	TerminalCommand Category = "terminal_command"
	Debugging       Category = "debugging"
	FileQuery       Category = "file_query"
	Error           Category = "error"
)

// Valid reports whether c is a member of the closed enum.
func (c Category) Valid() bool {
	switch c {
	case GeneralQuery, TerminalCommand, Debugging, FileQuery, Error:
		return true
	}
	return false
}

// Intent is the classification result: a category plus free-form
// prerequisite fields the plan generator must resolve first (a shell
// probe under "command", a clarifying "question", a module to check,
// a file to read, or — for Error — a human-readable "message").
type Intent struct {
	Category Category       `json:"class"`
	Requires map[string]any `json:"requires"`
}

// RequireString returns a string-valued prerequisite field.
func (in Intent) RequireString(key string) (string, bool) {
	v, ok := in.Requires[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Message returns the diagnostic carried by an Error intent.
func (in Intent) Message() string {
	if s, ok := in.RequireString("message"); ok {
		return s
	}
	return "classification failed"
}

// errorIntent builds the Error-category fallback; classification
// failure is data, never a raised error.
func errorIntent(format string, args ...any) Intent {
	return Intent{
		Category: Error,
		Requires: map[string]any{"message": fmt.Sprintf(format, args...)},
	}
}
