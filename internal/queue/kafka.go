package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka queue backend.
type KafkaConfig struct {
	// Brokers is the bootstrap broker list (host:port).
	Brokers []string

	// GroupPrefix namespaces consumer group ids; the group for a queue is
	// "<prefix>-<queue>". Defaults to "pagesift".
	GroupPrefix string

	// Partitions for queues created by CreateQueue. Defaults to 1: the
	// pipeline relies on per-queue ordering of the sentinel job relative
	// to its chunks.
	Partitions int

	// ReplicationFactor for created queues. Defaults to 1.
	ReplicationFactor int
}

// KafkaQueue is the broker-backed JobQueue: one topic per queue, one
// consumer group per queue, one message processed at a time per consumer.
// Handler errors are logged and the message is committed anyway - the
// pipeline's own bookkeeping marks the affected import failed, the transport
// never redelivers.
type KafkaQueue struct {
	config KafkaConfig
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	writers  map[string]*kafka.Writer
	readers  []*kafka.Reader
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewKafkaQueue creates a Kafka queue backend. It does not touch the broker
// until CreateQueue or Start.
func NewKafkaQueue(config KafkaConfig, logger *slog.Logger) *KafkaQueue {
	if config.GroupPrefix == "" {
		config.GroupPrefix = "pagesift"
	}

	if config.Partitions <= 0 {
		config.Partitions = 1
	}

	if config.ReplicationFactor <= 0 {
		config.ReplicationFactor = 1
	}

	return &KafkaQueue{
		config:   config,
		logger:   logger,
		handlers: make(map[string]Handler),
		writers:  make(map[string]*kafka.Writer),
	}
}

// CreateQueue ensures the topic backing the named queue exists. Idempotent:
// an already-exists response from the broker is not an error.
func (q *KafkaQueue) CreateQueue(ctx context.Context, name string) error {
	conn, err := kafka.DialContext(ctx, "tcp", q.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve controller: %w", err)
	}

	controllerConn, err := kafka.DialContext(ctx, "tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             name,
		NumPartitions:     q.config.Partitions,
		ReplicationFactor: q.config.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", name, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}

	if _, ok := q.writers[name]; !ok {
		q.writers[name] = &kafka.Writer{
			Addr:         kafka.TCP(q.config.Brokers...),
			Topic:        name,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		}
	}

	return nil
}

// Work registers the handler for the named queue. Must be called before
// Start.
func (q *KafkaQueue) Work(queue string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}

	if _, ok := q.handlers[queue]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, queue)
	}

	q.handlers[queue] = handler

	return nil
}

// Start spawns one consumer goroutine per registered queue.
func (q *KafkaQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}

	if q.stopped {
		return ErrStopped
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.started = true

	for name, handler := range q.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: q.config.Brokers,
			Topic:   name,
			GroupID: q.config.GroupPrefix + "-" + name,
		})
		q.readers = append(q.readers, reader)

		q.wg.Add(1)

		go q.consume(runCtx, name, reader, handler)
	}

	return nil
}

// Stop closes every writer and reader, aggregating cleanup errors.
func (q *KafkaQueue) Stop() error {
	q.mu.Lock()

	if q.stopped {
		q.mu.Unlock()

		return nil
	}

	q.stopped = true
	q.started = false

	if q.cancel != nil {
		q.cancel()
	}

	writers := q.writers
	readers := q.readers
	q.mu.Unlock()

	q.wg.Wait()

	var errs []error

	for name, writer := range writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", name, err))
		}
	}

	for _, reader := range readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader %s: %w", reader.Config().Topic, err))
		}
	}

	return errors.Join(errs...)
}

// Send produces one JSON-marshalled payload onto the queue's topic.
func (q *KafkaQueue) Send(ctx context.Context, queue string, payload any) error {
	q.mu.Lock()

	if !q.started {
		q.mu.Unlock()

		return ErrNotStarted
	}

	writer, ok := q.writers[queue]
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	if err := writer.WriteMessages(ctx, kafka.Message{Value: data}); err != nil {
		return fmt.Errorf("write to %s: %w", queue, err)
	}

	return nil
}

// Ready reports whether the backend is started and accepting sends.
func (q *KafkaQueue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.started && !q.stopped
}

// consume reads one message at a time; commit happens on successful
// FetchMessage handling regardless of handler outcome.
func (q *KafkaQueue) consume(ctx context.Context, name string, reader *kafka.Reader, handler Handler) {
	defer q.wg.Done()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			q.logger.Error("Fetch from queue failed",
				slog.String("queue", name),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := handler(ctx, msg.Value); err != nil {
			q.logger.Error("Job handler failed",
				slog.String("queue", name),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			q.logger.Error("Commit failed",
				slog.String("queue", name),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}
