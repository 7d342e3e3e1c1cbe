package handlers

import (
	"github.com/drblury/protobus/internal/runtime/binder"
	envelopepkg "github.com/drblury/protobus/internal/runtime/envelope"
	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
	metadatapkg "github.com/drblury/protobus/internal/runtime/metadata"
)

// Invocation describes one inbound call as seen by a handler: who sent it,
// under which event name, and the arguments the binder produced for it.
type Invocation struct {
	Event         string
	Sender        string
	CorrelationID string
	WantsReply    bool
	Metadata      metadatapkg.Metadata
	Logger        loggingpkg.ServiceLogger
	Args          binder.Arguments
}

// CloneMetadata returns a copy of the current metadata map so handlers can safely
// mutate headers for outgoing calls without touching the original map.
func (i *Invocation) CloneMetadata() metadatapkg.Metadata {
	return i.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (i *Invocation) Get(key string) string {
	return i.Metadata[key]
}

// ReplyTo returns the native reply inbox of the call, if the transport set one.
func (i *Invocation) ReplyTo() string {
	return i.Metadata[envelopepkg.MetadataKeyReplyTo]
}
