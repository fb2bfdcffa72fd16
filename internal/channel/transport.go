// Package channel provides polymorphic contact-channel transports. Each
// channel implements the same narrow send/await contract so the dialogue
// runner never branches on channel type.
package channel

import (
	"context"
	"errors"

	"github.com/carebridge/go-oce/internal/domain/outreach"
)

// ErrNoReply indicates the patient never replied within the wait budget
var ErrNoReply = errors.New("channel: no reply received")

// Transport is the send/receive contract for one contact channel
type Transport interface {
	Kind() outreach.Channel
	Send(ctx context.Context, contact, text string) error
	AwaitReply(ctx context.Context, contact string) (string, error)
}

// Producer publishes gateway messages; satisfied by the Redpanda producer
type Producer interface {
	ProduceMessage(ctx context.Context, topic, key string, value []byte) error
}

// Selector returns the transport for a channel
type Selector func(ch outreach.Channel) (Transport, error)

// NewSelector builds a Selector over a fixed transport set
func NewSelector(transports ...Transport) Selector {
	byKind := make(map[outreach.Channel]Transport, len(transports))
	for _, t := range transports {
		byKind[t.Kind()] = t
	}
	return func(ch outreach.Channel) (Transport, error) {
		t, ok := byKind[ch]
		if !ok {
			return nil, errors.New("channel: no transport for " + string(ch))
		}
		return t, nil
	}
}
