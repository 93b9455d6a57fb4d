package worker

import (
	"strings"

	"github.com/tidwall/gjson"
)

// DisplayLine extracts readable text from one line of worker output.
// Stream events of type assistant yield their text blocks and tool names,
// result events yield the final result text, and other events yield nothing.
// Lines that are not JSON are returned as they are.
func DisplayLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if !gjson.Valid(line) {
		return line, true
	}

	event := gjson.Parse(line)
	if !event.IsObject() {
		return line, true
	}

	switch event.Get("type").String() {
	case "assistant":
		var parts []string
		event.Get("message.content").ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				if text := strings.TrimSpace(block.Get("text").String()); text != "" {
					parts = append(parts, text)
				}
			case "tool_use":
				parts = append(parts, "[tool] "+block.Get("name").String())
			}
			return true
		})
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, "\n"), true
	case "result":
		result := strings.TrimSpace(event.Get("result").String())
		return result, result != ""
	default:
		return "", false
	}
}
