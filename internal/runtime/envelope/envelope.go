// Package envelope defines the unit of data exchanged over the bus and its
// conversion to and from Watermill messages.
package envelope

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/protobus/internal/runtime/errors"
	idspkg "github.com/drblury/protobus/internal/runtime/ids"
	jsoncodec "github.com/drblury/protobus/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/protobus/internal/runtime/metadata"
)

// Kind distinguishes event invocations from replies.
type Kind string

const (
	KindEvent    Kind = "event"
	KindResponse Kind = "response"
)

// Failure is the result a caller receives when the remote handler failed.
type Failure struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return f.Type + ": " + f.Message
}

// Envelope is the wire representation of an event or a response.
//
// Events carry their arguments either loosely typed (Args/Kwargs) or as an
// opaque typed blob (Payload); the two styles are mutually exclusive.
// Responses carry Result or Failure.
type Envelope struct {
	Kind          Kind                            `json:"kind"`
	Sender        string                          `json:"from"`
	Name          string                          `json:"name,omitempty"`
	Args          []jsoncodec.RawMessage          `json:"args,omitempty"`
	Kwargs        map[string]jsoncodec.RawMessage `json:"kwargs,omitempty"`
	Payload       jsoncodec.RawMessage            `json:"payload,omitempty"`
	WantsReply    bool                            `json:"wantsReply,omitempty"`
	CorrelationID string                          `json:"correlationId,omitempty"`
	Result        jsoncodec.RawMessage            `json:"result,omitempty"`
	Failure       *Failure                        `json:"failure,omitempty"`
}

// NewEvent builds an event envelope.
func NewEvent(sender, name string) *Envelope {
	return &Envelope{Kind: KindEvent, Sender: sender, Name: name}
}

// NewResponse builds the response to req, carrying its correlation id.
func NewResponse(sender string, req *Envelope) *Envelope {
	resp := &Envelope{Kind: KindResponse, Sender: sender}
	if req != nil {
		resp.CorrelationID = req.CorrelationID
		resp.Name = req.Name
	}
	return resp
}

// Validate checks the structural rules shared by Encode and Decode.
func (e *Envelope) Validate() error {
	if e == nil {
		return errors.New("envelope is nil")
	}
	switch e.Kind {
	case KindEvent:
		if e.Name == "" {
			return errspkg.ErrEventNameRequired
		}
		if len(e.Payload) > 0 && (len(e.Args) > 0 || len(e.Kwargs) > 0) {
			return errspkg.ErrPayloadConflict
		}
	case KindResponse:
	default:
		return fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
	return nil
}

// Encode validates and serialises the envelope.
func Encode(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(e)
}

// Decode parses and validates an envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := jsoncodec.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// ToMessage wraps the envelope in a Watermill message with a fresh ULID and
// the standard bus metadata.
func ToMessage(e *Envelope, md metadatapkg.Metadata) (*message.Message, error) {
	payload, err := Encode(e)
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	msg.Metadata.Set(MetadataKeyKind, string(e.Kind))
	msg.Metadata.Set(MetadataKeySender, e.Sender)
	if e.Name != "" {
		msg.Metadata.Set(MetadataKeyEvent, e.Name)
	}
	if e.CorrelationID != "" {
		msg.Metadata.Set(MetadataKeyCorrelationID, e.CorrelationID)
	}
	return msg, nil
}

// FromMessage decodes the envelope carried by msg.
func FromMessage(msg *message.Message) (*Envelope, error) {
	if msg == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}
	return Decode(msg.Payload)
}
