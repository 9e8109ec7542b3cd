package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"marketplace/events"
)

// messageWriter 為 kafka.Writer 中會用到的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ledgerOptions struct {
	logger       *slog.Logger
	writeTimeout time.Duration
}

type LedgerOption func(*ledgerOptions)

// WithLedgerLogger 設置日誌記錄器
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(o *ledgerOptions) {
		o.logger = logger
	}
}

// WithLedgerWriteTimeout 設置單筆事件寫入的逾時時間
func WithLedgerWriteTimeout(d time.Duration) LedgerOption {
	return func(o *ledgerOptions) {
		o.writeTimeout = d
	}
}

// Ledger 將帳務事件寫入 kafka topic
// 以事件的 Key (賣家或訂單) 作為 message key，同一個賣家的事件會依序落在同一個分區
type Ledger struct {
	writer  messageWriter
	logger  *slog.Logger
	options ledgerOptions
}

// NewWriter 建立帳務事件使用的 kafka.Writer
//   - Hash + Key: 相同賣家的事件落在同一個分區
//   - RequireAll: 等待所有 ISR 副本確認
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewLedger(writer messageWriter, opts ...LedgerOption) *Ledger {
	options := ledgerOptions{
		logger:       slog.Default(),
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Ledger{
		writer:  writer,
		logger:  options.logger.With(slog.String("caller", "KafkaLedger")),
		options: options,
	}
}

// Record 同步寫入一筆帳務事件
func (l *Ledger) Record(ctx context.Context, event events.LedgerEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.options.writeTimeout)
	defer cancel()
	err = l.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
		Time: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to write ledger event %s: %w", event.Type, err)
	}
	l.logger.Debug("ledger event recorded", slog.String("type", event.Type), slog.String("key", event.Key()))
	return nil
}

// Close 釋放 writer 資源
func (l *Ledger) Close() error {
	return l.writer.Close()
}
