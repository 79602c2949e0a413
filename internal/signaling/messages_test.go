package signaling

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestParseMessage_PreservesOpaquePayloadBytes(t *testing.T) {
	raw := []byte(`{"type":"offer","viewer_id":"v1","sdp":{"type":"offer","sdp":"v=0\r\n"},"candidate":{"candidate":"candidate:1 1 udp 2122260223 192.0.2.1 54400 typ host","sdpMid":"0"}}`)

	msg, err := parseMessage(raw)
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if msg.Type != "offer" || msg.ViewerID != "v1" {
		t.Fatalf("msg=%+v", msg)
	}
	if !bytes.Equal(msg.SDP, []byte(`{"type":"offer","sdp":"v=0\r\n"}`)) {
		t.Errorf("sdp bytes changed: %s", msg.SDP)
	}
	if !bytes.Contains(msg.Candidate, []byte("typ host")) {
		t.Errorf("candidate bytes changed: %s", msg.Candidate)
	}
}

func TestParseMessage_StringSDPAlsoOpaque(t *testing.T) {
	// Some clients send sdp as a bare string rather than a description object.
	// The relay must not care.
	msg, err := parseMessage([]byte(`{"type":"offer","sdp":"v=0"}`))
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if string(msg.SDP) != `"v=0"` {
		t.Errorf("sdp=%s", msg.SDP)
	}
}

func TestParseMessage_UnknownFieldsIgnored(t *testing.T) {
	msg, err := parseMessage([]byte(`{"type":"offer","viewer_id":"v1","extra":true}`))
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	if msg.Type != "offer" {
		t.Fatalf("type=%q", msg.Type)
	}
}

func TestParseMessage_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type": 42}`,
		`[1,2,3]`,
		`"just a string"`,
	} {
		if _, err := parseMessage([]byte(raw)); err == nil {
			t.Errorf("parseMessage(%q) succeeded, want error", raw)
		}
	}
}

func TestForwardPayload_OmitsAbsentFields(t *testing.T) {
	in, err := parseMessage([]byte(`{"type":"candidate","viewer_id":"v1","candidate":{"candidate":"c"}}`))
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}

	out, err := json.Marshal(forwardPayload(in))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := fields["sdp"]; ok {
		t.Errorf("forwarded message synthesized an sdp field: %s", out)
	}
	if _, ok := fields["viewer_id"]; ok {
		t.Errorf("streamer->viewer leg must not echo viewer_id: %s", out)
	}
	if string(fields["candidate"]) != `{"candidate":"c"}` {
		t.Errorf("candidate=%s", fields["candidate"])
	}
}

func TestMessageMarshal_ErrorShape(t *testing.T) {
	out, err := json.Marshal(Message{Type: typeError, Message: "Room abc not found"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"error","message":"Room abc not found"}`
	if string(out) != want {
		t.Fatalf("got %s, want %s", out, want)
	}
}
