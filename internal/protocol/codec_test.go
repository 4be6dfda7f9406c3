package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	reqs := []Request{
		{Type: MsgPing, CorrelationID: "a"},
		{Type: MsgSubscribe, CorrelationID: "b", Actor: "alice"},
	}
	for _, r := range reqs {
		if err := enc.Encode(r); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for i, want := range reqs {
		var got Request
		if err := dec.Decode(&got); err != nil {
			t.Fatalf("decode %d failed: %v", i, err)
		}
		if got.Type != want.Type || got.CorrelationID != want.CorrelationID || got.Actor != want.Actor {
			t.Errorf("frame %d = %+v, want %+v", i, got, want)
		}
	}
	var extra Request
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Errorf("decode past end = %v, want EOF", err)
	}
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	dec := NewDecoder(strings.NewReader("\n\n{\"type\":\"ping\"}\n"))
	var req Request
	if err := dec.Decode(&req); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if req.Type != MsgPing {
		t.Errorf("type = %q", req.Type)
	}
}

func TestDecoderRejectsMalformedFrame(t *testing.T) {
	dec := NewDecoder(strings.NewReader("{not json}\n"))
	var req Request
	if err := dec.Decode(&req); err == nil {
		t.Error("malformed frame decoded without error")
	}
}

func TestDecoderRejectsOversizedFrame(t *testing.T) {
	huge := `{"type":"ping","correlation_id":"` + strings.Repeat("x", MaxFrameBytes) + `"}`
	dec := NewDecoder(strings.NewReader(huge + "\n"))
	var req Request
	if err := dec.Decode(&req); err == nil {
		t.Error("oversized frame decoded without error")
	}
}
