package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"reporting-etl/internal/app"
	myErr "reporting-etl/internal/types/errors"
)

const (
	dialTimeout         = 10 * time.Second
	defaultBatchTimeout = 50 * time.Millisecond
)

// Factory - создаёт reader/writer с общими настройками брокера, SASL и TLS
type Factory struct {
	cfg app.ConfigKafka
}

func NewFactory(cfg app.ConfigKafka) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) Topic() string {
	return f.cfg.Topic
}

func (f *Factory) saslMechanism() (sasl.Mechanism, error) {
	switch strings.ToUpper(f.cfg.SASLMechanism) {
	case "", "PLAIN":
		return plain.Mechanism{Username: f.cfg.Username, Password: f.cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, f.cfg.Username, f.cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, f.cfg.Username, f.cfg.Password)
	}

	return nil, fmt.Errorf("%w: %s", myErr.ErrUnsupportedSASL, f.cfg.SASLMechanism)
}

func (f *Factory) tlsConfig() *tls.Config {
	if !f.cfg.TLS {
		return nil
	}

	return &tls.Config{MinVersion: tls.VersionTLS12}
}

// Transport - для writer
func (f *Factory) Transport() (*kgo.Transport, error) {
	transport := &kgo.Transport{
		ClientID:    f.cfg.ClientID,
		DialTimeout: dialTimeout,
		TLS:         f.tlsConfig(),
	}

	if f.cfg.SASLEnabled() {
		mechanism, err := f.saslMechanism()
		if err != nil {
			return nil, err
		}
		transport.SASL = mechanism
	}

	return transport, nil
}

// Dialer - для reader и проверки соединения
func (f *Factory) Dialer() (*kgo.Dialer, error) {
	dialer := &kgo.Dialer{
		ClientID:  f.cfg.ClientID,
		Timeout:   dialTimeout,
		DualStack: true,
		TLS:       f.tlsConfig(),
	}

	if f.cfg.SASLEnabled() {
		mechanism, err := f.saslMechanism()
		if err != nil {
			return nil, err
		}
		dialer.SASLMechanism = mechanism
	}

	return dialer, nil
}

// Ping - открывает и закрывает соединение с первым доступным брокером
func (f *Factory) Ping(ctx context.Context) error {
	if len(f.cfg.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	dialer, err := f.Dialer()
	if err != nil {
		return err
	}

	var lastErr error
	for _, broker := range f.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}

	return fmt.Errorf("dial kafka: %w", lastErr)
}

// NewWriter - сообщения с одним ключом попадают в одну партицию.
// Запись синхронная, поэтому неполный батч ждёт не дольше BatchTimeout.
func (f *Factory) NewWriter() (*kgo.Writer, error) {
	transport, err := f.Transport()
	if err != nil {
		return nil, err
	}

	batchTimeout := f.cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}

	return &kgo.Writer{
		Addr:                   kgo.TCP(f.cfg.Brokers...),
		Topic:                  f.cfg.Topic,
		Balancer:               &kgo.Hash{},
		RequiredAcks:           kgo.RequireAll,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: false,
		Transport:              transport,
	}, nil
}

// NewReader - reader группы; коммиты только явные.
// Новая группа начинает с конца топика, история не перечитывается.
func (f *Factory) NewReader() (*kgo.Reader, error) {
	dialer, err := f.Dialer()
	if err != nil {
		return nil, err
	}

	return kgo.NewReader(kgo.ReaderConfig{
		Brokers:        f.cfg.Brokers,
		Topic:          f.cfg.Topic,
		GroupID:        f.cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        time.Second,
		StartOffset:    kgo.LastOffset,
		CommitInterval: 0,
		Dialer:         dialer,
	}), nil
}
