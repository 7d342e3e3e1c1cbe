package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

type testPayload struct {
	Login   string `json:"login"`
	Channel string `json:"channel"`
}

func TestMarshalIndent(t *testing.T) {
	indented, err := MarshalIndent(testPayload{Login: "hoiy", Channel: "main"}, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"login\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := testPayload{Login: "silent_user", Channel: "stream"}

	if err := Encode(buf, payload); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded testPayload
	if err := Decode(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != payload {
		t.Fatalf("expected decoded payload to match, got %#v", decoded)
	}
}

func TestMarshalRaw(t *testing.T) {
	raw, err := MarshalRaw(nil)
	if err != nil {
		t.Fatalf("marshal nil failed: %v", err)
	}
	if string(raw) != "null" {
		t.Fatalf("expected null, got %s", raw)
	}

	passthrough := RawMessage(`{"already":"encoded"}`)
	raw, err = MarshalRaw(passthrough)
	if err != nil {
		t.Fatalf("marshal raw failed: %v", err)
	}
	if string(raw) != string(passthrough) {
		t.Fatalf("expected raw message to pass through untouched, got %s", raw)
	}

	raw, err = MarshalRaw([]int{1, 2})
	if err != nil {
		t.Fatalf("marshal slice failed: %v", err)
	}
	if string(raw) != "[1,2]" {
		t.Fatalf("unexpected encoding %s", raw)
	}
}

func TestValid(t *testing.T) {
	if !Valid([]byte(`{"a":1}`)) {
		t.Fatal("expected object to be valid")
	}
	if Valid([]byte(`{"a":`)) {
		t.Fatal("expected truncated document to be invalid")
	}
}
