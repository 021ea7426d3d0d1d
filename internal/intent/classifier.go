package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"devassist/internal/llm"
)

// Classifier turns user text into an Intent via one inference call.
type Classifier struct {
	client llm.Client
	osName string
	logger *zap.Logger
}

// NewClassifier builds a classifier for the given host OS name, which
// is embedded in the prompt so generated commands match the host shell.
func NewClassifier(client llm.Client, osName string, logger *zap.Logger) *Classifier {
	return &Classifier{client: client, osName: osName, logger: logger}
}

// Classify never returns an error: any service, parse, or validation
// failure yields an Error-category intent carrying the diagnostic, so
// the pipeline survives a misbehaving inference service.
func (c *Classifier) Classify(ctx context.Context, text string) Intent {
	reply, err := c.client.Complete(ctx, c.prompt(text))
	if err != nil {
		c.logger.Warn("classification call failed", zap.Error(err))
		return errorIntent("inference service error: %v", err)
	}

	raw, err := llm.ExtractJSONObject(reply)
	if err != nil {
		c.logger.Warn("classification reply had no JSON", zap.String("reply", speakable(reply)))
		return errorIntent("no JSON in classification reply")
	}

	var in Intent
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return errorIntent("invalid classification JSON: %v", err)
	}
	if !in.Category.Valid() {
		return errorIntent("unknown intent category %q", in.Category)
	}
	if in.Category == Error {
		if _, ok := in.RequireString("message"); !ok {
			in.Requires = map[string]any{"message": "classifier reported an error"}
		}
	}
	if in.Requires == nil {
		in.Requires = map[string]any{}
	}

	c.logger.Debug("classified input",
		zap.String("category", string(in.Category)),
		zap.Int("requires", len(in.Requires)))
	return in
}

// prompt builds the few-shot classification request. Strict JSON is
// demanded but never trusted; parsing stays defensive regardless.
func (c *Classifier) prompt(text string) string {
	return fmt.Sprintf(`You are a query classifier running on %[1]s. Classify this query:
- "general_query": general questions (e.g., "What is LLM?").
- "terminal_command": terminal actions (e.g., "list files in the current directory").
- "debugging": error messages (e.g., "ModuleNotFoundError").
- "file_query": file operations (e.g., "open test.py", "insert print hi at line 2 in test.py").

OS: %[1]s. Use %[1]s-compatible commands only.
"requires" may include only safe information-gathering prerequisites (e.g., "git status", "pip show <pkg>", never install/modify commands).

File operations map to action objects:
- "open <file>" -> {"action": "open", "filename": "<file>"}
- "insert <content> at line <num> in <file>" -> {"action": "insert", "content": "<content>", "line": <num>, "filename": "<file>"}
- "find <target> in <file>" -> {"action": "find", "target": "<target>", "filename": "<file>"}
- "add/append <content> to <file>" -> {"action": "append", "content": "<content>", "filename": "<file>"}
- "replace <old> with <new> in <file>" -> {"action": "replace", "old": "<old>", "new": "<new>", "filename": "<file>"}

Return valid JSON: {"class": "<class>", "requires": {<fields>}}.
If the query cannot be classified, return {"class": "error", "requires": {"message": "<reason>"}}.
Examples:
- "list files in the current directory" -> {"class": "terminal_command", "requires": {}}
- "push changes to git" -> {"class": "terminal_command", "requires": {"command": "git status"}}
- "ModuleNotFoundError: No module named 'requests'" -> {"class": "debugging", "requires": {"check_module": "requests"}}
- "open test.py" -> {"class": "file_query", "requires": {"action": "open", "filename": "test.py"}}
- "what is a goroutine" -> {"class": "general_query", "requires": {}}

Query: %[2]q
Return strict JSON, no extra text.`, c.osName, text)
}

// speakable trims a reply for log output.
func speakable(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
