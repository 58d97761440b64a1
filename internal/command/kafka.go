package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/log"
)

// KafkaCommand is the wire format of commands received via Kafka.
//
//	{
//	  "version":    "v1",
//	  "target":     "edge-01",
//	  "command":    "route_add",
//	  "timestamp":  "2024-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    {"prefix": "10.0.0.0/8", "next_hop": "192.0.2.1"}
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"` // node name, or "*" / empty for every node
	Command   string          `json:"command"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// KafkaResponse is written to the response topic for every executed command.
type KafkaResponse struct {
	Version   string      `json:"version"`
	Node      string      `json:"node"`
	Command   string      `json:"command"`
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Result    interface{} `json:"result,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches them to
// the same handler as the local socket.
type KafkaCommandConsumer struct {
	cfg     config.CommandKafkaConfig
	reader  messageReader
	writer  messageWriter // nil without a response topic
	handler *CommandHandler
	now     func() time.Time
}

// NewKafkaCommandConsumer creates a consumer for cfg. No connection is made
// until Start.
func NewKafkaCommandConsumer(cfg config.CommandKafkaConfig, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}
	if cfg.CommandTTL <= 0 {
		cfg.CommandTTL = 5 * time.Minute
	}

	startOffset := kafka.LastOffset
	if cfg.AutoOffsetReset == "earliest" {
		startOffset = kafka.FirstOffset
	}

	c := &KafkaCommandConsumer{
		cfg: cfg,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			StartOffset:    startOffset,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			CommitInterval: time.Second,
			MaxWait:        time.Second,
		}),
		handler: handler,
		now:     time.Now,
	}
	if cfg.ResponseTopic != "" {
		c.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.ResponseTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
	}
	return c, nil
}

// Start consumes commands until ctx is cancelled.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	log.GetLogger().WithFields(map[string]interface{}{
		"brokers":  c.cfg.Brokers,
		"topic":    c.cfg.Topic,
		"group_id": c.cfg.GroupID,
		"node":     c.cfg.Node,
	}).Info("kafka command consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.GetLogger().Info("kafka command consumer stopped")
				return ctx.Err()
			}
			log.GetLogger().WithError(err).Error("failed to fetch kafka message")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			log.GetLogger().WithError(err).WithFields(map[string]interface{}{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("kafka command not executed")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.GetLogger().WithError(err).Error("failed to commit kafka message")
		}
	}
}

// processMessage filters a message by target and age, runs it and publishes
// the response.
func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kc KafkaCommand
	if err := json.Unmarshal(msg.Value, &kc); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}
	if kc.Target != "*" && kc.Target != "" && kc.Target != c.cfg.Node {
		return nil
	}
	if !kc.Timestamp.IsZero() && c.now().Sub(kc.Timestamp) > c.cfg.CommandTTL {
		log.GetLogger().WithFields(map[string]interface{}{
			"command":    kc.Command,
			"request_id": kc.RequestID,
			"timestamp":  kc.Timestamp,
		}).Warn("skipping stale command")
		return nil
	}

	resp := c.handler.Handle(ctx, Command{
		Method: kc.Command,
		Params: kc.Payload,
		ID:     kc.RequestID,
	})
	if err := c.respond(ctx, kc, resp); err != nil {
		log.GetLogger().WithError(err).WithField("request_id", kc.RequestID).Error("failed to write kafka response")
	}
	if resp.Error != nil {
		return fmt.Errorf("command %s failed: %w", kc.Command, resp.Error)
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"command":    kc.Command,
		"request_id": kc.RequestID,
	}).Info("kafka command executed")
	return nil
}

func (c *KafkaCommandConsumer) respond(ctx context.Context, kc KafkaCommand, resp Response) error {
	if c.writer == nil {
		return nil
	}
	value, err := json.Marshal(KafkaResponse{
		Version:   "v1",
		Node:      c.cfg.Node,
		Command:   kc.Command,
		RequestID: kc.RequestID,
		Timestamp: c.now(),
		Result:    resp.Result,
		Error:     resp.Error,
	})
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(kc.RequestID), Value: value})
}

// Stop closes the reader and the response writer. Call it once Start has
// returned.
func (c *KafkaCommandConsumer) Stop() error {
	var errs []error
	if c.reader != nil {
		errs = append(errs, c.reader.Close())
		c.reader = nil
	}
	if c.writer != nil {
		errs = append(errs, c.writer.Close())
		c.writer = nil
	}
	return errors.Join(errs...)
}
