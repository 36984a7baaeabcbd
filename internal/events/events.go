// Package events records gateway lifecycle events on a Kafka topic for
// offline inspection. Delivery is best effort.
package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// Event types emitted by the gateway.
const (
	TypeSessionOpen  = "session.open"
	TypeSessionAuth  = "session.auth"
	TypeSessionClose = "session.close"
	TypeProtocolErr  = "session.protocol_error"
)

// Event is one gateway lifecycle record.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Logger records gateway events.
type Logger interface {
	Log(event Event)
}

// KafkaLogger writes JSON events to a topic via a sarama sync producer.
type KafkaLogger struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaLogger(producer sarama.SyncProducer, topic string) *KafkaLogger {
	return &KafkaLogger{producer: producer, topic: topic}
}

// NewProducer builds the sync producer the logger writes through.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_0_0_0
	config.ClientID = "tunesync-service"
	return sarama.NewSyncProducer(brokers, config)
}

func (l *KafkaLogger) Log(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal gateway event", "type", event.Type, "error", err)
		return
	}
	_, _, err = l.producer.SendMessage(&sarama.ProducerMessage{
		Topic: l.topic,
		Key:   sarama.StringEncoder(event.SessionID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		slog.Error("Failed to send gateway event", "type", event.Type, "error", err)
	}
}

// NopLogger discards events. Used when Kafka is not configured and in tests.
type NopLogger struct{}

func (NopLogger) Log(Event) {}
