package llm

import "errors"

// ErrNoJSON means no balanced JSON object was found in the reply.
var ErrNoJSON = errors.New("llm: no JSON object in response")

// ExtractJSONObject returns the first balanced top-level JSON object
// embedded in free text. The service is not trusted to return bare
// JSON: replies arrive wrapped in code fences, prose, or both, and the
// scanner handles all of those uniformly by ignoring everything outside
// the first `{...}` span.
//
// A byte-level state machine tracks brace depth and skips string
// contents and escapes. Iterating bytes is safe for the ASCII
// delimiters involved because UTF-8 never embeds ASCII bytes inside a
// multi-byte sequence.
func ExtractJSONObject(s string) (string, error) {
	var depth int
	var start = -1
	var inString, escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return s[start : i+1], nil
				}
			}
		}
	}
	return "", ErrNoJSON
}
