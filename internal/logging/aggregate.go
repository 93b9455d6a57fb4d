package logging

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// LogEntry is one parsed debug.log record.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
	RunID     string
	Iteration int
	Phase     string
	Attrs     map[string]any
}

// LogFilter selects debug log entries. Zero-valued fields do not filter.
type LogFilter struct {
	// Level keeps entries at or above this level (DEBUG < INFO < WARN < ERROR).
	Level string
	// Since keeps entries at or after this time.
	Since time.Time
	// RunID keeps entries from a single run.
	RunID string
	// Iteration keeps entries tagged with this iteration.
	Iteration int
	// MessageContains keeps entries whose message contains this substring.
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses every JSON record in the debug log at path.
// Lines that are not valid JSON are skipped so a truncated tail does not hide
// the rest of the file. Entries are returned in timestamp order.
func ReadEntries(path string) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no debug log at %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open debug log: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)
	const maxScanTokenSize = 1024 * 1024
	scanner.Buffer(make([]byte, maxScanTokenSize), maxScanTokenSize)

	for scanner.Scan() {
		entry, ok := ParseEntry(scanner.Text())
		if ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading debug log: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// ParseEntry parses a single JSON log line.
func ParseEntry(line string) (LogEntry, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !gjson.Valid(line) {
		return LogEntry{}, false
	}

	parsed := gjson.Parse(line)
	if !parsed.IsObject() {
		return LogEntry{}, false
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	parsed.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "time":
			if t, err := time.Parse(time.RFC3339Nano, value.String()); err == nil {
				entry.Timestamp = t
			}
		case "level":
			entry.Level = value.String()
		case "msg":
			entry.Message = value.String()
		case "run_id":
			entry.RunID = value.String()
		case "iteration":
			entry.Iteration = int(value.Int())
		case "phase":
			entry.Phase = value.String()
		default:
			entry.Attrs[key.String()] = value.Value()
		}
		return true
	})
	return entry, true
}

// FilterEntries returns the entries matching every criterion in filter.
func FilterEntries(entries []LogEntry, filter LogFilter) []LogEntry {
	var filtered []LogEntry
	for _, entry := range entries {
		if filter.matches(entry) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

func (f LogFilter) matches(entry LogEntry) bool {
	if f.Level != "" {
		want, wantOk := levelOrder[strings.ToUpper(f.Level)]
		got, gotOk := levelOrder[entry.Level]
		if wantOk && gotOk && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && entry.Timestamp.Before(f.Since) {
		return false
	}
	if f.RunID != "" && entry.RunID != f.RunID {
		return false
	}
	if f.Iteration > 0 && entry.Iteration != f.Iteration {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(entry.Message, f.MessageContains) {
		return false
	}
	return true
}

// Format renders an entry as a single human-readable line:
// [15:04:05.000] LEVEL message (iteration=N, phase=p) key=value ...
func (e LogEntry) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %-5s %s", e.Timestamp.Format("15:04:05.000"), e.Level, e.Message)

	var ctx []string
	if e.Iteration > 0 {
		ctx = append(ctx, fmt.Sprintf("iteration=%d", e.Iteration))
	}
	if e.Phase != "" {
		ctx = append(ctx, "phase="+e.Phase)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(ctx, ", "))
	}

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}
