// Package session tracks the worker's conversation identifier across
// iterations. In continue mode the identifier printed by the first iteration
// is handed back to every later invocation so the worker resumes its own
// context instead of starting cold.
//
// Extraction is heuristic. Output without a recognizable identifier is not an
// error: the run simply carries on as if it were in clean mode.
package session

import (
	"bufio"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// Mode selects whether iterations share a worker session.
type Mode string

// Session modes
const (
	ModeClean    Mode = "clean"
	ModeContinue Mode = "continue"
)

// ParseMode converts a config value to a Mode. Unknown values report false.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeClean:
		return ModeClean, true
	case ModeContinue:
		return ModeContinue, true
	default:
		return "", false
	}
}

// idPattern matches a labeled identifier whose key contains "session", such
// as session_id=abc, "sessionId": "abc", Session ID: abc or session abc123.
// Group 1 is the separator and group 2 the identifier.
var idPattern = regexp.MustCompile(`(?i)session[a-z_-]*(?: [a-z]+)?["']?(\s*[:=]\s*|[ \t]+)["']?([a-z0-9_-]+)`)

// Extract returns the first session identifier found in text. A value set
// off by whitespace alone must contain a digit, so prose such as "the
// session expired" does not yield an identifier.
func Extract(text string) (string, bool) {
	for _, m := range idPattern.FindAllStringSubmatch(text, -1) {
		sep, id := m[1], m[2]
		if strings.TrimSpace(sep) == "" && !strings.ContainsAny(id, "0123456789") {
			continue
		}
		return id, true
	}
	return "", false
}

// ExtractStream looks for a top-level "session_id" string on each JSON event
// line first and falls back to the text pattern over the whole output.
func ExtractStream(output string) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") || !gjson.Valid(line) {
			continue
		}
		if id := gjson.Get(line, "session_id"); id.Type == gjson.String && id.Str != "" {
			return id.Str, true
		}
	}
	return Extract(output)
}

// Augment returns a copy of args with the resume flag and id appended. When id
// is empty the copy is returned unchanged.
func Augment(args []string, flag, id string) []string {
	out := slices.Clone(args)
	if id == "" {
		return out
	}
	if flag != "" {
		out = append(out, flag)
	}
	return append(out, id)
}

// Tracker holds the session identifier for one run. It is owned by the loop
// and is not safe for concurrent use.
type Tracker struct {
	mode       Mode
	resumeFlag string
	id         string
	observed   bool
}

// NewTracker creates a Tracker. resumeFlag is the worker flag that precedes
// the identifier, e.g. "--resume".
func NewTracker(mode Mode, resumeFlag string) *Tracker {
	return &Tracker{mode: mode, resumeFlag: resumeFlag}
}

// Mode returns the tracker's session mode.
func (t *Tracker) Mode() Mode {
	return t.mode
}

// ID returns the captured identifier, or "" when none is held.
func (t *Tracker) ID() string {
	return t.id
}

// Observe offers an iteration's output to the tracker. Only the first
// iteration of a continue-mode run is inspected, and only once; the held
// identifier is never replaced. It reports the identifier and true when this
// call captured it.
func (t *Tracker) Observe(iteration int, output string) (string, bool) {
	if t.mode != ModeContinue || iteration != 1 || t.observed || t.id != "" {
		return "", false
	}
	t.observed = true

	id, ok := ExtractStream(output)
	if !ok {
		return "", false
	}
	t.id = id
	return id, true
}

// Augment adds the resume arguments to args when an identifier is held.
func (t *Tracker) Augment(args []string) []string {
	return Augment(args, t.resumeFlag, t.id)
}
