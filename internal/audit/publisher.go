// Package audit publishes policy decisions to Kafka for off-box review.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/KafClaw/butler/internal/timeline"
)

// DefaultTopic receives policy decision envelopes.
const DefaultTopic = "butler.audit.policy-decisions"

// EnvelopePolicyDecision is the envelope type of a decision record.
const EnvelopePolicyDecision = "policy_decision"

// Envelope is the wire format of every audit message.
type Envelope struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	SenderID      string    `json:"sender_id"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       any       `json:"payload"`
}

// DecisionPayload describes one merged PreToolUse decision.
type DecisionPayload struct {
	SessionID  string `json:"session_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	Tool       string `json:"tool"`
	Event      string `json:"event"`
	Permission string `json:"permission"`
	Code       string `json:"code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes decision envelopes to a Kafka topic.
type Publisher struct {
	writer   messageWriter
	senderID string
	now      func() time.Time
}

// NewPublisher creates an asynchronous publisher. brokers is a comma
// separated bootstrap list.
func NewPublisher(brokers, topic, senderID string) (*Publisher, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, fmt.Errorf("audit publisher: no brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 100 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				slog.Warn("Audit publish failed", "topic", topic, "messages", len(msgs), "error", err)
			}
		},
	}
	return newPublisher(w, senderID), nil
}

func newPublisher(w messageWriter, senderID string) *Publisher {
	return &Publisher{writer: w, senderID: senderID, now: time.Now}
}

// Message builds the Kafka message for a decision record. Messages are keyed
// by session so one session's decisions stay ordered on one partition.
func (p *Publisher) Message(rec *timeline.PolicyDecisionRecord) (kafka.Message, error) {
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = p.now()
	}
	env := Envelope{
		Type:          EnvelopePolicyDecision,
		CorrelationID: rec.TraceID,
		SenderID:      p.senderID,
		Timestamp:     ts.UTC(),
		Payload: DecisionPayload{
			SessionID:  rec.SessionID,
			AgentID:    rec.AgentID,
			Tool:       rec.Tool,
			Event:      rec.Event,
			Permission: rec.Permission,
			Code:       rec.Code,
			Reason:     rec.Reason,
		},
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal audit envelope: %w", err)
	}
	return kafka.Message{
		Key:     []byte(rec.SessionID),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(EnvelopePolicyDecision)}},
		Time:    ts,
	}, nil
}

// LogPolicyDecision publishes rec. With the async writer the call returns
// once the message is queued; delivery failures are logged.
func (p *Publisher) LogPolicyDecision(rec *timeline.PolicyDecisionRecord) error {
	msg, err := p.Message(rec)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(context.Background(), msg)
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
