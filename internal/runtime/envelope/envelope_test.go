package envelope

import (
	"errors"
	"strings"
	"testing"

	errspkg "github.com/drblury/protobus/internal/runtime/errors"
	jsoncodec "github.com/drblury/protobus/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/protobus/internal/runtime/metadata"
)

func TestEncodeUsesWireFieldNames(t *testing.T) {
	env := NewEvent("site", "recognize")
	env.Kwargs = map[string]jsoncodec.RawMessage{"login": jsoncodec.RawMessage(`"hoiy"`)}
	env.WantsReply = true
	env.CorrelationID = "01HX"

	data, err := Encode(env)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	body := string(data)
	for _, want := range []string{`"kind":"event"`, `"from":"site"`, `"name":"recognize"`, `"wantsReply":true`, `"correlationId":"01HX"`, `"kwargs":{"login":"hoiy"}`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}
	if strings.Contains(body, `"payload"`) || strings.Contains(body, `"args"`) {
		t.Fatalf("empty fields should be omitted: %s", body)
	}
}

func TestDecodeValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown kind", `{"kind":"ping","from":"a"}`, nil},
		{"event without name", `{"kind":"event","from":"a"}`, errspkg.ErrEventNameRequired},
		{"payload with args", `{"kind":"event","from":"a","name":"x","args":[1],"payload":{"k":1}}`, errspkg.ErrPayloadConflict},
		{"not json", `{"kind":`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewResponseCopiesCorrelation(t *testing.T) {
	req := NewEvent("site", "recognize")
	req.CorrelationID = "abc"

	resp := NewResponse("recognizer", req)
	if resp.Kind != KindResponse || resp.CorrelationID != "abc" || resp.Sender != "recognizer" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if err := resp.Validate(); err != nil {
		t.Fatalf("response should be valid: %v", err)
	}
}

func TestMessageConversion(t *testing.T) {
	env := NewEvent("bot", "song")
	env.Args = []jsoncodec.RawMessage{jsoncodec.RawMessage(`"main"`)}
	env.CorrelationID = "corr-1"

	msg, err := ToMessage(env, metadatapkg.New("source", "test"))
	if err != nil {
		t.Fatalf("to message failed: %v", err)
	}
	if msg.UUID == "" {
		t.Fatal("expected message id")
	}
	checks := map[string]string{
		"source":                 "test",
		MetadataKeyKind:          "event",
		MetadataKeySender:        "bot",
		MetadataKeyEvent:         "song",
		MetadataKeyCorrelationID: "corr-1",
	}
	for k, want := range checks {
		if got := msg.Metadata.Get(k); got != want {
			t.Fatalf("metadata %s = %q, want %q", k, got, want)
		}
	}

	decoded, err := FromMessage(msg)
	if err != nil {
		t.Fatalf("from message failed: %v", err)
	}
	if decoded.Name != "song" || len(decoded.Args) != 1 || string(decoded.Args[0]) != `"main"` {
		t.Fatalf("unexpected decoded envelope %+v", decoded)
	}

	if _, err := FromMessage(nil); err == nil {
		t.Fatal("expected error for nil message")
	}
}

func TestFailureError(t *testing.T) {
	f := &Failure{Type: "HandlerError", Message: "boom"}
	if f.Error() != "HandlerError: boom" {
		t.Fatalf("unexpected failure text %q", f.Error())
	}
	var nilFailure *Failure
	if nilFailure.Error() != "" {
		t.Fatal("nil failure should render empty")
	}
}
