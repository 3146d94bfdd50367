package agent

import "testing"

func TestParseKind(t *testing.T) {
	cases := []struct {
		input string
		want  Kind
		ok    bool
	}{
		{"claude", KindClaude, true},
		{"CODEX", KindCodex, true},
		{" gemini ", KindGemini, true},
		{"gpt", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.input)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", tc.input, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseKind(%q) should fail", tc.input)
		}
	}
}

func TestComposeCommand(t *testing.T) {
	cases := []struct {
		name       string
		kind       Kind
		unattended bool
		sessionID  string
		externalID string
		want       string
	}{
		{
			name:      "claude always carries its session id",
			kind:      KindClaude,
			sessionID: "abc-123",
			want:      "claude --session-id abc-123",
		},
		{
			name:       "claude unattended",
			kind:       KindClaude,
			unattended: true,
			sessionID:  "abc-123",
			want:       "claude --dangerously-skip-permissions --session-id abc-123",
		},
		{
			name: "codex fresh start has no resume",
			kind: KindCodex,
			want: "codex",
		},
		{
			name:       "codex resumes a known conversation",
			kind:       KindCodex,
			externalID: "ext-9",
			want:       "codex resume ext-9",
		},
		{
			name:       "codex unattended with resume",
			kind:       KindCodex,
			unattended: true,
			externalID: "ext-9",
			want:       "codex --dangerously-bypass-approvals-and-sandbox resume ext-9",
		},
		{
			name:       "gemini never resumes",
			kind:       KindGemini,
			sessionID:  "abc",
			externalID: "ext",
			want:       "gemini",
		},
		{
			name:       "gemini unattended",
			kind:       KindGemini,
			unattended: true,
			want:       "gemini --yolo",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComposeCommand(tc.kind, tc.unattended, tc.sessionID, tc.externalID)
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStrategyForUnknownKind(t *testing.T) {
	s := StrategyFor(Kind("mystery"))
	if s.Command != "claude" {
		t.Errorf("unknown kind should fall back to the claude strategy, got %q", s.Command)
	}
}
