package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"devassist/internal/intent"
	"devassist/internal/llm"
)

// Prompter asks the user a clarifying question and returns the answer.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Prober runs a read-only context-gathering command and returns its
// combined output. Implementations enforce a bounded timeout.
type Prober interface {
	Probe(ctx context.Context, command string) (string, error)
}

// Generator produces a validated Plan from a query and its intent.
type Generator struct {
	client   llm.Client
	prompter Prompter
	prober   Prober
	osName   string
	logger   *zap.Logger

	readFile func(string) ([]byte, error)
}

// NewGenerator wires a Generator. prompter and prober may be nil, in
// which case the matching prerequisites fail instead of blocking.
func NewGenerator(client llm.Client, prompter Prompter, prober Prober, osName string, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:   client,
		prompter: prompter,
		prober:   prober,
		osName:   osName,
		logger:   logger,
		readFile: os.ReadFile,
	}
}

// contextEntry is one gathered prerequisite, folded into the prompt in
// gathering order.
type contextEntry struct {
	label string
	value string
}

// Generate gathers the intent's prerequisites, issues one inference
// call, and returns the category-shaped plan. The intent's category
// must be actionable; Error intents never reach here.
func (g *Generator) Generate(ctx context.Context, query string, it intent.Intent) (*Plan, error) {
	if !it.Category.Valid() || it.Category == intent.Error {
		return nil, fmt.Errorf("%w: no plan for category %q", ErrSchema, it.Category)
	}

	extra, err := g.gather(ctx, it)
	if err != nil {
		return nil, err
	}

	prompt := g.prompt(query, it.Category, extra)
	reply, err := g.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	raw, err := llm.ExtractJSONObject(reply)
	if err != nil {
		g.logger.Warn("plan reply carried no JSON object", zap.String("reply", trimForLog(reply)))
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrSchema)
	}

	return g.decode(it.Category, raw)
}

// gather resolves every prerequisite the classifier requested. Any
// failure aborts the whole plan; a partially gathered context is never
// sent to inference.
func (g *Generator) gather(ctx context.Context, it intent.Intent) ([]contextEntry, error) {
	var extra []contextEntry

	if q, ok := it.RequireString("question"); ok {
		if g.prompter == nil {
			return nil, fmt.Errorf("%w: clarifying question with no prompter", ErrPrerequisite)
		}
		answer, err := g.prompter.Ask(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrerequisite, err)
		}
		extra = append(extra, contextEntry{"User was asked", q})
		extra = append(extra, contextEntry{"User answered", answer})
	}

	if cmd, ok := it.RequireString("command"); ok {
		out, err := g.probe(ctx, cmd)
		if err != nil {
			return nil, err
		}
		extra = append(extra, contextEntry{fmt.Sprintf("Output of %q", cmd), out})
	}

	if mod, ok := it.RequireString("check_module"); ok {
		out, err := g.probe(ctx, "pip show "+mod)
		if err != nil {
			return nil, err
		}
		extra = append(extra, contextEntry{fmt.Sprintf("Installed state of module %q", mod), out})
	}

	if name, ok := it.RequireString("file_content"); ok {
		data, err := g.readFile(name)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrPrerequisite, name, err)
		}
		extra = append(extra, contextEntry{fmt.Sprintf("Contents of %s", name), string(data)})
	}

	return extra, nil
}

func (g *Generator) probe(ctx context.Context, command string) (string, error) {
	if !ProbeAllowed(command) {
		return "", fmt.Errorf("%w: probe %q is not read-only", ErrPrerequisite, command)
	}
	if g.prober == nil {
		return "", fmt.Errorf("%w: probe requested with no prober", ErrPrerequisite)
	}
	out, err := g.prober.Probe(ctx, command)
	if err != nil {
		return "", fmt.Errorf("%w: probe %q: %v", ErrPrerequisite, command, err)
	}
	g.logger.Debug("probe gathered", zap.String("command", command), zap.Int("bytes", len(out)))
	return out, nil
}

// prompt builds the category-specific generation prompt. Each category
// pins an exact JSON response shape so the reply can be validated
// rather than guessed at.
func (g *Generator) prompt(query string, cat intent.Category, extra []contextEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a terminal assistant for a visually impaired developer on %s.\n", g.osName)
	fmt.Fprintf(&b, "Request: %s\n", query)
	for _, e := range extra {
		fmt.Fprintf(&b, "\n%s:\n%s\n", e.label, strings.TrimSpace(e.value))
	}
	b.WriteString("\n")

	switch cat {
	case intent.TerminalCommand:
		b.WriteString(`Produce the exact shell commands that accomplish the request, in order.
Prefer a single command when one suffices. Each description is read
aloud, so keep it one short plain sentence.
Respond with ONLY this JSON, no prose:
{"commands": [{"command": "<shell command>", "description": "<what it does>"}]}`)
	case intent.FileQuery:
		b.WriteString(`Produce exactly one editor action for the request.
Actions and their required fields:
  open:    filename
  insert:  filename, content, line (1-based; line may be one past the last line to append at end)
  find:    filename, target
  append:  filename, content
  replace: filename, old, new (optional: case_sensitive, default false)
Respond with ONLY this JSON, no prose:
{"action": "<open|insert|find|append|replace>", "filename": "...", ...}`)
	case intent.GeneralQuery:
		b.WriteString(`Answer in two or three short sentences suitable for reading aloud.
Respond with ONLY this JSON, no prose:
{"answer": "<your answer>"}`)
	case intent.Debugging:
		b.WriteString(`Diagnose the problem and produce a remediation plan. auto_fix_command
must be a single safe shell command, or "" when no one-shot fix exists.
Respond with ONLY this JSON, no prose:
{"error_category": "...", "probable_causes": ["..."], "step_by_step_fix": ["..."], "suggested_fix": "...", "auto_fix_command": "", "alternative_solutions": ["..."], "preventive_measures": ["..."]}`)
	}
	return b.String()
}

// decode unmarshals raw into the shape cat requires and validates it.
func (g *Generator) decode(cat intent.Category, raw string) (*Plan, error) {
	p := &Plan{Category: cat}

	switch cat {
	case intent.TerminalCommand:
		var body struct {
			Commands []Step `json:"commands"`
		}
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		if len(body.Commands) == 0 {
			return nil, fmt.Errorf("%w: empty commands array", ErrSchema)
		}
		for i, s := range body.Commands {
			if strings.TrimSpace(s.Command) == "" {
				return nil, fmt.Errorf("%w: command %d is blank", ErrSchema, i+1)
			}
		}
		p.Steps = body.Commands

	case intent.FileQuery:
		var op FileOp
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		if err := validateFileOp(&op); err != nil {
			return nil, err
		}
		p.File = &op

	case intent.GeneralQuery:
		var body struct {
			Answer string `json:"answer"`
		}
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		if strings.TrimSpace(body.Answer) == "" {
			return nil, fmt.Errorf("%w: empty answer", ErrSchema)
		}
		p.Answer = body.Answer

	case intent.Debugging:
		var sug DebugSuggestion
		if err := json.Unmarshal([]byte(raw), &sug); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchema, err)
		}
		if sug.ErrorCategory == "" && len(sug.StepByStepFix) == 0 {
			return nil, fmt.Errorf("%w: empty debugging suggestion", ErrSchema)
		}
		p.Debug = &sug
	}

	return p, nil
}

func validateFileOp(op *FileOp) error {
	if op.Filename == "" {
		return fmt.Errorf("%w: file action missing filename", ErrSchema)
	}
	switch op.Action {
	case ActionOpen:
	case ActionInsert:
		if op.Content == "" {
			return fmt.Errorf("%w: insert missing content", ErrSchema)
		}
		if op.Line < 1 {
			return fmt.Errorf("%w: insert line must be >= 1, got %d", ErrSchema, op.Line)
		}
	case ActionFind:
		if op.Target == "" {
			return fmt.Errorf("%w: find missing target", ErrSchema)
		}
	case ActionAppend:
		if op.Content == "" {
			return fmt.Errorf("%w: append missing content", ErrSchema)
		}
	case ActionReplace:
		if op.Old == "" {
			return fmt.Errorf("%w: replace missing old text", ErrSchema)
		}
	default:
		return fmt.Errorf("%w: unknown file action %q", ErrSchema, op.Action)
	}
	return nil
}

func trimForLog(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 160 {
		return s[:160] + "..."
	}
	return s
}
