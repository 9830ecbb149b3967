package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nats-io/nats.go"
)

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	Consumer      string
	Partitions    int
	MaxReconnects int
	ReconnectWait time.Duration
	Name          string
}

// DefaultNATSConfig returns the stream and consumer names used in production.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Stream:        "LLM_ANALYTICS_EVENTS",
		SubjectPrefix: "llm-analytics-events",
		Consumer:      "llm-analytics-hub",
		Partitions:    16,
		MaxReconnects: 60,
		ReconnectWait: 2 * time.Second,
		Name:          "llm-analytics-hub",
	}
}

func (c NATSConfig) withDefaults() NATSConfig {
	d := DefaultNATSConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.Stream == "" {
		c.Stream = d.Stream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = d.SubjectPrefix
	}
	if c.Consumer == "" {
		c.Consumer = d.Consumer
	}
	if c.Partitions <= 0 {
		c.Partitions = d.Partitions
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = d.MaxReconnects
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = d.ReconnectWait
	}
	if c.Name == "" {
		c.Name = d.Name
	}
	return c
}

// NATSTransport publishes to and pulls from JetStream. Messages are spread
// over partition subjects by a hash of their key.
type NATSTransport struct {
	cfg    NATSConfig
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// NewNATSTransport connects and ensures the stream exists.
func NewNATSTransport(cfg NATSConfig, logger *slog.Logger) (*NATSTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	t := &NATSTransport{cfg: cfg, nc: nc, js: js, logger: logger}
	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return t, nil
}

func (t *NATSTransport) subjects() string {
	return t.cfg.SubjectPrefix + ".*"
}

// Subject returns the partition subject for key.
func (t *NATSTransport) Subject(key string) string {
	partition := xxhash.Sum64String(key) % uint64(t.cfg.Partitions)
	return t.cfg.SubjectPrefix + "." + strconv.FormatUint(partition, 10)
}

func (t *NATSTransport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", t.cfg.Stream, err)
	}
	_, err = t.js.AddStream(&nats.StreamConfig{
		Name:       t.cfg.Stream,
		Subjects:   []string{t.subjects()},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", t.cfg.Stream, err)
	}
	t.logger.Info("created jetstream stream", slog.String("stream", t.cfg.Stream), slog.String("subjects", t.subjects()))
	return nil
}

// Publish sends data to the key's partition. The key doubles as the
// JetStream de-duplication id.
func (t *NATSTransport) Publish(ctx context.Context, key string, data []byte) error {
	msg := nats.NewMsg(t.Subject(key))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, key)
	if _, err := t.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Subscribe binds to the durable pull consumer shared by all hub replicas.
func (t *NATSTransport) Subscribe(context.Context) (Subscription, error) {
	sub, err := t.js.PullSubscribe(t.subjects(), t.cfg.Consumer,
		nats.BindStream(t.cfg.Stream),
		nats.AckExplicit(),
		nats.ManualAck(),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", t.cfg.Consumer, err)
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains the connection.
func (t *NATSTransport) Close() error {
	if t.nc == nil || t.nc.IsClosed() {
		return nil
	}
	return t.nc.Drain()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}
	msgs, err := s.sub.Fetch(max, nats.MaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
		return nil, err
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, natsMessage{msg: m})
	}
	return out, nil
}

// Close leaves the durable consumer in place so a restart resumes from the
// last acknowledged message. Unsubscribe would delete it.
func (s *natsSubscription) Close() error {
	return nil
}

type natsMessage struct {
	msg *nats.Msg
}

func (m natsMessage) Data() []byte { return m.msg.Data }

func (m natsMessage) Key() string {
	if key := m.msg.Header.Get(nats.MsgIdHdr); key != "" {
		return key
	}
	return m.msg.Subject
}

func (m natsMessage) Ack() error { return m.msg.Ack() }
