package messaging

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/apperrors"
)

// metricsMessageTTL is the per-message expiration on the transient
// metrics queue, in milliseconds.
const metricsMessageTTL = "30000"

// TLSFiles is the client certificate triple for amqps connections.
type TLSFiles struct {
	CACert string
	Cert   string
	Key    string
}

// Config configures the broker connection.
type Config struct {
	URL         string
	TLS         *TLSFiles
	ConnRetries int
	RetryDelay  time.Duration
	// RequeueTTL bounds the publish dedup window.
	RequeueTTL time.Duration
}

// Fabric owns the connection to the broker and the named queues. Publish
// deduplicates by request fingerprint; Consume hands deliveries to the
// caller with manual ack.
type Fabric struct {
	cfg Config
	log zerolog.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	published *dedupCache
}

func NewFabric(cfg Config, log zerolog.Logger) *Fabric {
	if cfg.ConnRetries <= 0 {
		cfg.ConnRetries = 25
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Fabric{
		cfg:       cfg,
		log:       log.With().Str("component", "fabric").Logger(),
		published: newDedupCache(cfg.RequeueTTL, nil),
	}
}

// Connect dials the broker, retrying with a fixed delay. After the retry
// budget is exhausted it returns a BROKER_UNAVAILABLE error.
func (f *Fabric) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.ConnRetries; attempt++ {
		conn, err := f.dial()
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				f.mu.Lock()
				f.conn = conn
				f.ch = ch
				f.mu.Unlock()
				if err := f.declareQueues(); err != nil {
					return err
				}
				f.log.Info().Msg("connected to RabbitMQ")
				return nil
			}
			_ = conn.Close()
			err = chErr
		}
		lastErr = err
		f.log.Warn().Err(err).Int("attempt", attempt).Msg("broker connection failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.RetryDelay):
		}
	}
	return apperrors.NewBrokerUnavailable("could not connect to RabbitMQ", lastErr)
}

func (f *Fabric) dial() (*amqp.Connection, error) {
	if f.cfg.TLS == nil {
		return amqp.Dial(f.cfg.URL)
	}
	tlsCfg, err := loadTLS(f.cfg.TLS)
	if err != nil {
		return nil, err
	}
	return amqp.DialTLS(f.cfg.URL, tlsCfg)
}

func loadTLS(files *TLSFiles) (*tls.Config, error) {
	caPEM, err := os.ReadFile(files.CACert)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates in %s", files.CACert)
	}
	cert, err := tls.LoadX509KeyPair(files.Cert, files.Key)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	return &tls.Config{RootCAs: pool, Certificates: []tls.Certificate{cert}}, nil
}

func (f *Fabric) declareQueues() error {
	ch := f.channel()
	for _, q := range []string{ApplicationFetchQueue, RefreshStatusQueue, StatusUpdateQueue, ExpirationQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	_, err := ch.QueueDeclare(FetcherMetricsQueue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", FetcherMetricsQueue, err)
	}
	return nil
}

func (f *Fabric) channel() *amqp.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

// Publish sends a job or status-update message to a queue via the
// default exchange. Duplicate requests inside the dedup window are
// silently suppressed.
func (f *Fabric) Publish(ctx context.Context, queue string, msg *Message) error {
	fp := msg.Fingerprint()
	if f.published.Contains(fp) {
		f.log.Warn().
			Str("fingerprint", fp).
			Str("application", msg.OAM()).
			Int64("chat_id", msg.ChatID).
			Str("request_type", msg.RequestType).
			Msg("message already published, skipping")
		return nil
	}
	if err := f.publish(ctx, queue, msg, nil); err != nil {
		return err
	}
	f.published.Add(fp)
	return nil
}

// PublishWithHeaders bypasses dedup; it is the retry path, where the
// fingerprint of the original request is intentionally reused.
func (f *Fabric) PublishWithHeaders(ctx context.Context, queue string, msg *Message, headers amqp.Table) error {
	return f.publish(ctx, queue, msg, headers)
}

func (f *Fabric) publish(ctx context.Context, queue string, msg *Message, headers amqp.Table) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	ch := f.channel()
	if ch == nil {
		return apperrors.NewBrokerUnavailable("channel not initialized", nil)
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	f.log.Debug().
		Str("queue", queue).
		Str("application", msg.OAM()).
		Str("request_type", msg.RequestType).
		Msg("message published")
	return nil
}

// PublishMetrics sends a transient metrics snapshot with a short TTL.
func (f *Fabric) PublishMetrics(ctx context.Context, snapshot any) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	ch := f.channel()
	if ch == nil {
		return apperrors.NewBrokerUnavailable("channel not initialized", nil)
	}
	return ch.PublishWithContext(ctx, "", FetcherMetricsQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Expiration:  metricsMessageTTL,
	})
}

// Consume registers a handler on a queue with manual acknowledgements
// and returns the consumer tag so the caller can cancel it later. The
// handler owns ack/nack of each delivery.
func (f *Fabric) Consume(ctx context.Context, queue string, prefetch int, handler func(context.Context, amqp.Delivery)) (string, error) {
	ch := f.channel()
	if ch == nil {
		return "", apperrors.NewBrokerUnavailable("channel not initialized", nil)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return "", fmt.Errorf("set QoS: %w", err)
		}
	}
	tag := fmt.Sprintf("%s-consumer", queue)
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("register consumer on %s: %w", queue, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				handler(ctx, d)
			}
		}
	}()

	f.log.Info().Str("queue", queue).Msg("consumer started")
	return tag, nil
}

// Cancel stops a consumer previously registered with Consume. Messages
// already delivered but unacked return to the queue.
func (f *Fabric) Cancel(tag string) error {
	ch := f.channel()
	if ch == nil {
		return nil
	}
	return ch.Cancel(tag, false)
}

// Discard drops a request fingerprint from the dedup cache. The
// reconciler calls this when the matching reply arrives so the next
// scheduler cycle can publish again.
func (f *Fabric) Discard(fp string) {
	f.published.Discard(fp)
	f.log.Debug().Str("fingerprint", fp).Msg("reply received, fingerprint discarded")
}

// Ping reports broker connectivity for health checks.
func (f *Fabric) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil || f.conn.IsClosed() {
		return apperrors.NewBrokerUnavailable("connection closed", nil)
	}
	return nil
}

// Close tears down the channel and connection. Idempotent.
func (f *Fabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch != nil {
		_ = f.ch.Close()
		f.ch = nil
	}
	if f.conn != nil {
		err := f.conn.Close()
		f.conn = nil
		f.log.Info().Msg("broker connection closed")
		return err
	}
	return nil
}
