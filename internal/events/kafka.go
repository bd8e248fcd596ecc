package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"drivesched/backend/internal/telemetry"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher hands events to a background loop so that publishing never waits on the brokers.
// When the queue is full the event is dropped, logged and counted.
type KafkaPublisher struct {
	writer       messageWriter
	logger       *slog.Logger
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan kafka.Message
	done   chan struct{}
}

type KafkaConfig struct {
	Brokers      string
	WriteTimeout time.Duration
	QueueSize    int
}

const (
	defaultQueueSize = 1024
	batchTimeout     = 5 * time.Millisecond
)

// NewPublisher returns a kafka publisher, or Noop when no brokers are configured.
func NewPublisher(cfg KafkaConfig, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")

	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		logger.Warn("event publishing disabled (no kafka brokers configured)")
		return Noop{}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafkaPublisher(writer, cfg.WriteTimeout, cfg.QueueSize, logger)
}

func newKafkaPublisher(w messageWriter, timeout time.Duration, queueSize int, logger *slog.Logger) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	p := &KafkaPublisher{
		writer:       w,
		logger:       logger,
		writeTimeout: timeout,
		queue:        make(chan kafka.Message, queueSize),
		done:         make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload any) {
	value, err := json.Marshal(payload)
	if err != nil {
		telemetry.EventPublishFailures.WithLabelValues(topic).Inc()
		p.logger.ErrorContext(ctx, "event encode failed", "topic", topic, "err", err)
		return
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(topic)},
		},
	}
	msg.Headers = injectTraceHeaders(ctx, msg.Headers)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		telemetry.EventPublishFailures.WithLabelValues(topic).Inc()
		p.logger.WarnContext(ctx, "event dropped after close", "topic", topic, "key", key)
		return
	}
	select {
	case p.queue <- msg:
	default:
		telemetry.EventPublishFailures.WithLabelValues(topic).Inc()
		p.logger.WarnContext(ctx, "event queue full; event dropped", "topic", topic, "key", key)
	}
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		err := p.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			telemetry.EventPublishFailures.WithLabelValues(msg.Topic).Inc()
			p.logger.Error("event publish failed", "topic", msg.Topic, "key", string(msg.Key), "err", err)
		}
	}
}

// Close stops accepting events, drains the queue and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	<-p.done
	return p.writer.Close()
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
