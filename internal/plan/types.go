// Package plan turns a classified intent into a concrete, validated
// execution plan via one inference call enriched with prerequisite
// context (clarifying answers, read-only probe output, file contents).
package plan

import (
	"errors"

	"devassist/internal/intent"
)

// Taxonomy of plan-generation failures. All end the turn with a
// user-facing message; no partial plan is ever executed.
var (
	// ErrPrerequisite means a clarifying answer or probe could not be gathered.
	ErrPrerequisite = errors.New("plan: prerequisite failed")

	// ErrSchema means the service reply was missing fields its category requires.
	ErrSchema = errors.New("plan: response schema mismatch")

	// ErrInference means the inference call itself failed.
	ErrInference = errors.New("plan: inference service failed")
)

// Step is one shell command with its spoken description.
type Step struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// FileAction enumerates editor operations.
type FileAction string

const (
	ActionOpen    FileAction = "open"
	ActionInsert  FileAction = "insert"
	ActionFind    FileAction = "find"
	ActionAppend  FileAction = "append"
	ActionReplace FileAction = "replace"
)

// FileOp is a single editor operation with action-specific fields.
type FileOp struct {
	Action   FileAction `json:"action"`
	Filename string     `json:"filename"`

	Content string `json:"content,omitempty"` // insert, append
	Line    int    `json:"line,omitempty"`    // insert
	Target  string `json:"target,omitempty"`  // find

	Old           string `json:"old,omitempty"` // replace
	New           string `json:"new,omitempty"` // replace
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

// DebugSuggestion is the structured remediation plan for a debugging
// intent. A missing auto-fix and an explicitly empty one are the same
// thing: no one-shot fix is offered, the step walk still runs.
type DebugSuggestion struct {
	ErrorCategory        string   `json:"error_category"`
	ProbableCauses       []string `json:"probable_causes"`
	StepByStepFix        []string `json:"step_by_step_fix"`
	SuggestedFix         string   `json:"suggested_fix"`
	AutoFixCommand       string   `json:"auto_fix_command"`
	AlternativeSolutions []string `json:"alternative_solutions"`
	PreventiveMeasures   []string `json:"preventive_measures"`
}

// Plan is the category-shaped result of generation. Exactly one of the
// payload fields is populated, matching Category; a reply that does not
// fit its category is rejected as ErrSchema, never coerced.
type Plan struct {
	Category intent.Category

	Steps  []Step           // TerminalCommand
	File   *FileOp          // FileQuery
	Answer string           // GeneralQuery
	Debug  *DebugSuggestion // Debugging
}
