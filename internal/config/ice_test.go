package config

import (
	"strings"
	"testing"
)

func TestParseICEServersJSON_SingleAndSliceURLs(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": ["turn:turn.example.com:3478", "turns:turn.example.com:5349"], "username": "u", "credential": "c"}
	]`
	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len=%d, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Errorf("servers[0].URLs=%v", servers[0].URLs)
	}
	if len(servers[1].URLs) != 2 || servers[1].Username != "u" {
		t.Errorf("servers[1]=%+v", servers[1])
	}
}

func TestParseICEServersJSON_TurnWithoutCredentialsRejected(t *testing.T) {
	_, err := ParseICEServersJSON(`[{"urls": "turn:turn.example.com:3478"}]`)
	if err == nil || !strings.Contains(err.Error(), "username") {
		t.Fatalf("err=%v, want turn credential error", err)
	}
}

func TestParseICEServersJSON_RejectsUnknownScheme(t *testing.T) {
	_, err := ParseICEServersJSON(`[{"urls": "https://example.com"}]`)
	if err == nil || !strings.Contains(err.Error(), "unsupported url scheme") {
		t.Fatalf("err=%v, want scheme error", err)
	}
}

func TestParseICEServersFromConvenience(t *testing.T) {
	servers, err := parseICEServersFromConvenienceEnv(
		"stun:s1.example.com:3478, stun:s2.example.com:3478",
		"turn:t.example.com:3478",
		"user", "pass",
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len=%d, want 2 (stun group + turn group)", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Errorf("stun URLs=%v", servers[0].URLs)
	}
	if servers[1].Username != "user" {
		t.Errorf("turn username=%q", servers[1].Username)
	}
}

func TestParseICEServersFromConvenience_TurnRequiresBothCreds(t *testing.T) {
	_, err := parseICEServersFromConvenienceEnv("", "turn:t.example.com:3478", "user", "")
	if err == nil {
		t.Fatalf("expected error for missing turn credential")
	}
}
