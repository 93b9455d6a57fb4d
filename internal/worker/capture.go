package worker

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// capture is the single writer behind the worker's stdout and stderr.
// It keeps the full output, mirrors it to the iteration log, and in
// streaming mode hands complete lines to the display extractor.
type capture struct {
	mu      sync.Mutex
	stream  bool
	output  bytes.Buffer
	partial []byte
	display []string
	log     io.Writer
	logErr  error
	onLine  func(display string)
}

func newCapture(stream bool, log io.Writer, onLine func(string)) *capture {
	return &capture{stream: stream, log: log, onLine: onLine}
}

// Write never fails; the worker must not see an error because the log
// could not be written.
func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.output.Write(p)
	if !c.stream {
		return len(p), nil
	}

	c.partial = append(c.partial, p...)
	for {
		i := bytes.IndexByte(c.partial, '\n')
		if i < 0 {
			break
		}
		c.line(c.partial[:i+1])
		c.partial = c.partial[i+1:]
	}
	return len(p), nil
}

func (c *capture) line(raw []byte) {
	c.writeLog(raw)

	text := strings.TrimRight(string(raw), "\r\n")
	if d, ok := DisplayLine(text); ok {
		c.display = append(c.display, d)
		if c.onLine != nil {
			c.onLine(d)
		}
	}
}

func (c *capture) writeLog(p []byte) {
	if c.log == nil || c.logErr != nil {
		return
	}
	if _, err := c.log.Write(p); err != nil {
		c.logErr = err
	}
}

// finish flushes an unterminated last line in streaming mode, or the whole
// output in buffered mode.
func (c *capture) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stream {
		c.writeLog(c.output.Bytes())
		return
	}
	if len(c.partial) > 0 {
		c.line(c.partial)
		c.partial = nil
	}
}

func (c *capture) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.String()
}

func (c *capture) Display() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.display, "\n")
}

// LogErr returns the first iteration-log write failure.
func (c *capture) LogErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logErr
}
