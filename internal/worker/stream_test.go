package worker

import "testing"

func TestDisplayLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{
			name:   "assistant text",
			line:   `{"type":"assistant","message":{"content":[{"type":"text","text":"Reading the plan."}]}}`,
			want:   "Reading the plan.",
			wantOK: true,
		},
		{
			name:   "assistant text and tool use",
			line:   `{"type":"assistant","message":{"content":[{"type":"text","text":"Running tests"},{"type":"tool_use","name":"Bash","input":{}}]}}`,
			want:   "Running tests\n[tool] Bash",
			wantOK: true,
		},
		{
			name:   "assistant with only thinking",
			line:   `{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"..."}]}}`,
			wantOK: false,
		},
		{
			name:   "result",
			line:   `{"type":"result","subtype":"success","result":"All done <promise>COMPLETE</promise>","session_id":"abc"}`,
			want:   "All done <promise>COMPLETE</promise>",
			wantOK: true,
		},
		{
			name:   "system init",
			line:   `{"type":"system","subtype":"init","session_id":"abc"}`,
			wantOK: false,
		},
		{
			name:   "plain text",
			line:   "  compiling...  ",
			want:   "compiling...",
			wantOK: true,
		},
		{
			name:   "json array",
			line:   `[1,2]`,
			want:   `[1,2]`,
			wantOK: true,
		},
		{
			name:   "blank",
			line:   "   ",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DisplayLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("DisplayLine() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("DisplayLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
