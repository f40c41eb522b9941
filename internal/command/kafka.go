package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/hostguard/internal/config"
)

const (
	defaultCommandTTL = 5 * time.Minute
	fetchRetryDelay   = 5 * time.Second
	broadcastTarget   = "*"
)

// KafkaCommand is one control message on the command topic. Command and
// Payload carry the same method names and params as the socket channel.
//
//	{"target":"edge-01","command":"blocklist_add","timestamp":"2024-01-15T10:30:00Z",
//	 "request_id":"req-1","payload":{"domains":["ads.example.com"]}}
type KafkaCommand struct {
	Version   string          `json:"version"`
	Target    string          `json:"target"` // hostname, "*" or empty for every node
	Command   string          `json:"command"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer applies blocklist commands published for this host.
type KafkaCommandConsumer struct {
	ccConfig config.CommandChannelConfig
	hostname string
	reader   messageReader
	handler  *CommandHandler
	ttl      time.Duration

	closeOnce sync.Once
	closeErr  error
}

func NewKafkaCommandConsumer(ccConfig config.CommandChannelConfig, hostname string, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	rc, err := newReaderConfig(ccConfig.Kafka)
	if err != nil {
		return nil, err
	}
	ttl := ccConfig.CommandTTL
	if ttl <= 0 {
		ttl = defaultCommandTTL
	}
	return &KafkaCommandConsumer{
		ccConfig: ccConfig,
		hostname: hostname,
		reader:   kafka.NewReader(rc),
		handler:  handler,
		ttl:      ttl,
	}, nil
}

func newReaderConfig(kc config.CommandKafkaConfig) (kafka.ReaderConfig, error) {
	switch {
	case len(kc.Brokers) == 0:
		return kafka.ReaderConfig{}, errors.New("command kafka: no brokers configured")
	case kc.Topic == "":
		return kafka.ReaderConfig{}, errors.New("command kafka: topic not set")
	case kc.GroupID == "":
		return kafka.ReaderConfig{}, errors.New("command kafka: group_id not set")
	}

	offset := kafka.LastOffset
	switch kc.AutoOffsetReset {
	case "", "latest":
	case "earliest":
		offset = kafka.FirstOffset
	default:
		return kafka.ReaderConfig{}, fmt.Errorf("command kafka: auto_offset_reset %q is neither earliest nor latest", kc.AutoOffsetReset)
	}

	return kafka.ReaderConfig{
		Brokers:        kc.Brokers,
		Topic:          kc.Topic,
		GroupID:        kc.GroupID,
		StartOffset:    offset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	}, nil
}

// Start blocks reading the topic until ctx ends. Every fetched message is
// committed, including ones that were skipped or failed.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	kc := c.ccConfig.Kafka
	slog.Info("listening for blocklist commands on kafka",
		"topic", kc.Topic, "group_id", kc.GroupID, "host", c.hostname, "ttl", c.ttl)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("kafka fetch failed, retrying", "error", err, "delay", fetchRetryDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Warn("kafka command rejected", "error", err,
				"partition", msg.Partition, "offset", msg.Offset)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Warn("kafka commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kc KafkaCommand
	if err := json.Unmarshal(msg.Value, &kc); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	if !c.accepts(kc, time.Now()) {
		return nil
	}

	slog.Info("applying kafka command", "command", kc.Command, "request_id", kc.RequestID)
	resp := c.handler.Handle(ctx, Command{Method: kc.Command, Params: kc.Payload, ID: kc.RequestID})
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", kc.Command, resp.Error)
	}
	return nil
}

// accepts reports whether kc addresses this host and is still within ttl.
// A zero timestamp never expires.
func (c *KafkaCommandConsumer) accepts(kc KafkaCommand, now time.Time) bool {
	if kc.Target != "" && kc.Target != broadcastTarget && kc.Target != c.hostname {
		slog.Debug("kafka command for another host", "target", kc.Target, "request_id", kc.RequestID)
		return false
	}
	if kc.Timestamp.IsZero() {
		return true
	}
	if age := now.Sub(kc.Timestamp); age > c.ttl {
		slog.Warn("dropping expired kafka command", "command", kc.Command,
			"request_id", kc.RequestID, "age", age.Round(time.Second))
		return false
	}
	return true
}

// Stop closes the underlying reader once; later calls return the first result.
func (c *KafkaCommandConsumer) Stop() error {
	c.closeOnce.Do(func() {
		if err := c.reader.Close(); err != nil {
			c.closeErr = fmt.Errorf("close kafka reader: %w", err)
		}
	})
	return c.closeErr
}
