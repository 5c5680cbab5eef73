package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"reporting-etl/internal/metrics"
	myErr "reporting-etl/internal/types/errors"
)

// Producer - публикует события в топик метрик.
// Подключается при первой отправке; повторный Connect ничего не делает.
type Producer struct {
	Writer WriterInterface
	Logger *zap.SugaredLogger

	mu      sync.Mutex
	connect func(ctx context.Context) (WriterInterface, error)
}

func NewProducer(factory *Factory, logger *zap.SugaredLogger) *Producer {
	return &Producer{
		Logger: logger,
		connect: func(ctx context.Context) (WriterInterface, error) {
			if err := factory.Ping(ctx); err != nil {
				return nil, err
			}
			w, err := factory.NewWriter()
			if err != nil {
				return nil, err
			}
			return &kafkaWriterWrapper{Writer: w}, nil
		},
	}
}

// Обёртка для реализации интерфейса
type kafkaWriterWrapper struct {
	Writer *kafka.Writer
}

func (w *kafkaWriterWrapper) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return w.Writer.WriteMessages(ctx, msgs...)
}

func (w *kafkaWriterWrapper) Close() error {
	return w.Writer.Close()
}

func (p *Producer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Writer != nil {
		return nil
	}
	if p.connect == nil {
		return myErr.ErrProducerNotConnected
	}

	w, err := p.connect(ctx)
	if err != nil {
		p.Logger.Errorw("Failed to connect Kafka producer", zap.Error(err))
		return err
	}
	p.Writer = w
	p.Logger.Info("Kafka producer connected")

	return nil
}

func (p *Producer) writer() WriterInterface {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.Writer
}

func (p *Producer) SendEvent(ctx context.Context, event Event) error {
	if err := p.Connect(ctx); err != nil {
		return err
	}

	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}

	if err := p.writer().WriteMessages(ctx, msg); err != nil {
		p.Logger.Errorf("Failed to write Kafka message: %v", err)
		return err
	}

	return nil
}

// Publish - как SendEvent, но ошибка только логируется
func (p *Producer) Publish(ctx context.Context, event Event) {
	if err := p.SendEvent(ctx, event); err != nil {
		p.fail(event, err)
		return
	}
	metrics.ObservePublish(nil)
}

// PublishBatch - все события одним WriteMessages. Ошибки по каждому сообщению
// логируются и считаются, но не возвращаются.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}

	if err := p.Connect(ctx); err != nil {
		p.failAll(events, err)
		return
	}

	msgs := make([]kafka.Message, 0, len(events))
	encoded := make([]Event, 0, len(events))
	for _, evt := range events {
		msg, err := encodeEvent(evt)
		if err != nil {
			p.fail(evt, err)
			continue
		}
		msgs = append(msgs, msg)
		encoded = append(encoded, evt)
	}
	if len(msgs) == 0 {
		return
	}

	err := p.writer().WriteMessages(ctx, msgs...)

	var writeErrs kafka.WriteErrors
	perMessage := errors.As(err, &writeErrs) && len(writeErrs) == len(msgs)

	failed := 0
	for i, evt := range encoded {
		msgErr := err
		if perMessage {
			msgErr = writeErrs[i]
		}
		if msgErr != nil {
			failed++
			p.fail(evt, msgErr)
			continue
		}
		metrics.ObservePublish(nil)
	}

	p.Logger.Infow("metric events published", "sent", len(encoded)-failed, "failed", failed+len(events)-len(encoded))
}

func (p *Producer) fail(event Event, err error) {
	metrics.ObservePublish(err)
	p.Logger.Errorw("Failed to publish metric event", "key", event.Key(), zap.Error(err))
}

func (p *Producer) failAll(events []Event, err error) {
	for _, evt := range events {
		p.fail(evt, err)
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Writer == nil {
		return nil
	}
	err := p.Writer.Close()
	p.Writer = nil

	return err
}
