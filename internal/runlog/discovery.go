package runlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var (
	runLogPattern  = regexp.MustCompile(`^run-(\d{8}-\d{6}(?:-\d+)?)\.log$`)
	iterLogPattern = regexp.MustCompile(`^run-(\d{8}-\d{6}(?:-\d+)?)-iter-(\d+)\.log$`)
	headerPattern  = regexp.MustCompile(`^===== iteration (\d+) \| (\S+) \| outcome=(\S+) exit=(-?\d+) elapsed=(\S+) =====$`)
)

// RunInfo summarizes a run found in the log root.
type RunInfo struct {
	ID          string
	Path        string
	StartedAt   time.Time
	ModTime     time.Time
	Size        int64
	Iterations  int    // Iteration logs present on disk
	LastOutcome string // Outcome of the last block in the run log, if any
}

// ListRuns returns every run in the store, newest first. A missing log root
// yields no runs and no error.
func (s *Store) ListRuns() ([]RunInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	runs := make(map[string]*RunInfo)
	iterations := make(map[string]int)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if m := iterLogPattern.FindStringSubmatch(name); m != nil {
			iterations[m[1]]++
			continue
		}
		m := runLogPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		info := &RunInfo{
			ID:      m[1],
			Path:    filepath.Join(s.dir, name),
			ModTime: e.ModTime(),
			Size:    e.Size(),
		}
		if t, err := time.ParseInLocation(TimestampLayout, m[1][:len(TimestampLayout)], time.Local); err == nil {
			info.StartedAt = t
		}
		runs[m[1]] = info
	}

	result := make([]RunInfo, 0, len(runs))
	for id, info := range runs {
		info.Iterations = iterations[id]
		if blocks, err := s.ReadHeaders(info.Path); err == nil && len(blocks) > 0 {
			info.LastOutcome = blocks[len(blocks)-1].Outcome
		}
		result = append(result, *info)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// LatestRun returns the newest run in the store.
func (s *Store) LatestRun() (*RunInfo, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs found in %s", s.dir)
	}
	return &runs[0], nil
}

// FindRun returns the run whose ID starts with prefix. The prefix must
// identify exactly one run.
func (s *Store) FindRun(prefix string) (*RunInfo, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return nil, err
	}

	var matches []RunInfo
	for _, r := range runs {
		if r.ID == prefix {
			return &r, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run not found: %s", prefix)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("run prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

// ReadHeaders parses the block headers of a run log. The output between
// headers is skipped.
func (s *Store) ReadHeaders(path string) ([]Block, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var blocks []Block
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if b, ok := ParseHeader(scanner.Text()); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks, scanner.Err()
}

// ParseHeader parses a block header line produced by Block.Header. Output and
// Elapsed are left zero.
func ParseHeader(line string) (Block, bool) {
	m := headerPattern.FindStringSubmatch(line)
	if m == nil {
		return Block{}, false
	}
	n, _ := strconv.Atoi(m[1])
	exit, _ := strconv.Atoi(m[4])
	started, _ := time.Parse(time.RFC3339, m[2])
	return Block{
		Iteration: n,
		StartedAt: started,
		Outcome:   m[3],
		ExitCode:  exit,
	}, true
}
