package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/domain/outreach"
	"github.com/carebridge/go-oce/internal/infrastructure/redpanda"
	"github.com/carebridge/go-oce/pkg/circuitbreaker"
)

// OutboundMessage is the JSON envelope produced to a gateway topic
type OutboundMessage struct {
	MessageID string    `json:"message_id"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Channel   string    `json:"channel"`
	SentAt    time.Time `json:"sent_at"`
}

// InboundMessage is the JSON envelope consumed from a gateway reply topic
type InboundMessage struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// GatewayTransport sends through a Kafka-fronted message gateway and
// receives replies via the reply router. One instance per channel.
type GatewayTransport struct {
	kind          outreach.Channel
	outboundTopic string
	producer      Producer
	router        *ReplyRouter
	breaker       *circuitbreaker.CircuitBreaker
	logger        *zap.Logger
}

// NewSMSTransport creates the SMS gateway transport
func NewSMSTransport(producer Producer, router *ReplyRouter, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *GatewayTransport {
	return newGatewayTransport(outreach.ChannelSMS, redpanda.TopicSMSOutbound, producer, router, breaker, logger)
}

// NewVoiceTransport creates the voice gateway transport. The voice gateway
// handles text-to-speech and transcription; from here it is the same
// send/await contract.
func NewVoiceTransport(producer Producer, router *ReplyRouter, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *GatewayTransport {
	return newGatewayTransport(outreach.ChannelVoice, redpanda.TopicVoiceOutbound, producer, router, breaker, logger)
}

func newGatewayTransport(kind outreach.Channel, topic string, producer Producer, router *ReplyRouter, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *GatewayTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayTransport{
		kind:          kind,
		outboundTopic: topic,
		producer:      producer,
		router:        router,
		breaker:       breaker,
		logger:        logger,
	}
}

// Kind returns the transport's channel
func (t *GatewayTransport) Kind() outreach.Channel { return t.kind }

// Send publishes one outbound message to the gateway topic
func (t *GatewayTransport) Send(ctx context.Context, contact, text string) error {
	msg := OutboundMessage{
		MessageID: uuid.New().String(),
		To:        contact,
		Body:      text,
		Channel:   string(t.kind),
		SentAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	send := func() (interface{}, error) {
		return nil, t.producer.ProduceMessage(ctx, t.outboundTopic, contact, payload)
	}
	if t.breaker != nil {
		_, err = t.breaker.Execute(ctx, send)
	} else {
		_, err = send()
	}
	if err != nil {
		return fmt.Errorf("gateway send (%s): %w", t.kind, err)
	}

	t.logger.Debug("gateway message sent",
		zap.String("channel", string(t.kind)),
		zap.String("message_id", msg.MessageID))
	return nil
}

// AwaitReply blocks until the patient replies or the context deadline ends
func (t *GatewayTransport) AwaitReply(ctx context.Context, contact string) (string, error) {
	reply, err := t.router.Await(ctx, contact)
	if err != nil {
		if ctx.Err() != nil {
			return "", ErrNoReply
		}
		return "", err
	}
	return reply, nil
}
