package redact

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const placeholder = "[REDACTED]"

type rule struct {
	name string
	re   *regexp.Regexp
}

// rules apply in order, each to the output of the one before.
var rules = []rule{
	{"api-key-assignment", regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[:=]\s*["']?([A-Za-z0-9/+=_-]{20,})["']?`)},
	{"aws-access-key-id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"aws-secret-access-key", regexp.MustCompile(`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`)},
	{"quoted-credential", regexp.MustCompile(`(?i)(secret|token|password|passwd|credential)\s*[:=]\s*["']([^"']{8,})["']`)},
	{"bearer", regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._-]{20,}`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)},
	{"private-key", regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE KEY-----`)},
	{"github-token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`)},
	{"slack-token", regexp.MustCompile(`xox[bporas]-[A-Za-z0-9-]{10,}`)},
	{"anthropic-key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
	{"openai-key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"dsn-password", regexp.MustCompile(`(?i)\b(postgres(ql)?|mysql|mongodb(\+srv)?|redis|amqps?)://[^:/\s]+:[^@\s]+@`)},
	{"hex-assignment", regexp.MustCompile(`(?i)(key|secret|token)\s*[:=]\s*["']?[0-9a-f]{32,}["']?`)},
}

// Secrets replaces everything that looks like a credential with [REDACTED].
func Secrets(text string) string {
	for _, r := range rules {
		text = r.re.ReplaceAllLiteralString(text, placeholder)
	}
	return text
}

// ShouldRedactPath checks if a file path matches any of the redaction path
// patterns. A pattern starting with "**/" also matches the base name.
func ShouldRedactPath(path string, patterns []string) bool {
	base := path[strings.LastIndex(path, "/")+1:]
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
		if clean := strings.TrimPrefix(pattern, "**/"); clean != pattern {
			if ok, err := doublestar.Match(clean, base); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// Redactor applies one path policy to evidence text. Secret patterns are
// scrubbed unless KeepSecrets is set.
type Redactor struct {
	Paths       []string
	KeepSecrets bool
}

// Lines redacts a file's lines. A path matched by the policy yields a single
// placeholder line.
func (r Redactor) Lines(path string, lines []string) []string {
	if ShouldRedactPath(path, r.Paths) {
		return []string{placeholder + " (file content redacted by path policy)"}
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = r.scrub(l)
	}
	return out
}

// Line redacts one line from path.
func (r Redactor) Line(path, line string) string {
	if ShouldRedactPath(path, r.Paths) {
		return placeholder
	}
	return r.scrub(line)
}

func (r Redactor) scrub(s string) string {
	if r.KeepSecrets {
		return s
	}
	return Secrets(s)
}
