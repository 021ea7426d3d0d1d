package plan

import "strings"

// probeAllowPrefixes are the read-only commands a classifier may request
// as context before plan generation. Anything outside this list is
// refused without running.
var probeAllowPrefixes = []string{
	"git status",
	"git log",
	"git diff",
	"git branch",
	"git remote",
	"ls",
	"dir",
	"pwd",
	"cat",
	"type",
	"head",
	"tail",
	"pip show",
	"pip list",
	"pip3 show",
	"pip3 list",
	"go version",
	"go env",
	"go list",
	"npm list",
	"npm ls",
	"node --version",
	"node -v",
	"python --version",
	"python3 --version",
	"which",
	"where",
	"whoami",
	"uname",
	"echo",
	"env",
	"printenv",
	"df",
	"free",
	"wc",
}

// ProbeAllowed reports whether command is on the read-only allow list.
// Prefixes match on whole words, so "ls -la" is allowed but "lsof" is
// not covered by the "ls" entry.
func ProbeAllowed(command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	if cmd == "" {
		return false
	}
	for _, p := range probeAllowPrefixes {
		if cmd == p || strings.HasPrefix(cmd, p+" ") {
			return true
		}
	}
	return false
}
