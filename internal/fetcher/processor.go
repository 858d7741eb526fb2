package fetcher

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/logger"
	"github.com/appwatch/mvcr-status-bot/internal/messaging"
)

// broker is the slice of the message fabric the processor needs.
type broker interface {
	Publish(ctx context.Context, queue string, msg *messaging.Message) error
	PublishWithHeaders(ctx context.Context, queue string, msg *messaging.Message, headers amqp.Table) error
	Consume(ctx context.Context, queue string, prefetch int, handler func(context.Context, amqp.Delivery)) (string, error)
	Cancel(tag string) error
}

// Config tunes one fetcher instance.
type Config struct {
	PortalURL       string
	JitterSeconds   int
	MaxRetries      int
	MaxMessages     int
	CoolOffDuration time.Duration
	Prefetch        int
}

// Processor consumes fetch and refresh jobs, drives the portal engine
// and reports observations back on the status update queue.
type Processor struct {
	fabric    broker
	engine    Engine
	collector *Collector
	cfg       Config
	locks     *keyLocks
	log       zerolog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) bool

	mu           sync.Mutex
	inflight     *amqp.Delivery
	messageCount int
	coolingOff   bool
	coolOffC     chan struct{}
}

func NewProcessor(fabric broker, engine Engine, collector *Collector, cfg Config) *Processor {
	return &Processor{
		fabric:    fabric,
		engine:    engine,
		collector: collector,
		cfg:       cfg,
		locks:     newKeyLocks(),
		log:       logger.Component("processor"),
		sleep:     sleepCtx,
		coolOffC:  make(chan struct{}, 1),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Run starts both consumers and keeps them alive, pausing for the
// cool-off duration whenever the message budget is exhausted. It blocks
// until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		fetchTag, err := p.fabric.Consume(ctx, messaging.ApplicationFetchQueue, p.cfg.Prefetch, p.handleFetch)
		if err != nil {
			return err
		}
		refreshTag, err := p.fabric.Consume(ctx, messaging.RefreshStatusQueue, p.cfg.Prefetch, p.handleRefresh)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.coolOffC:
		}

		p.log.Warn().
			Int("max_messages", p.cfg.MaxMessages).
			Dur("cool_off", p.cfg.CoolOffDuration).
			Msg("message budget exhausted, entering cool-off")
		_ = p.fabric.Cancel(fetchTag)
		_ = p.fabric.Cancel(refreshTag)

		if !p.sleep(ctx, p.cfg.CoolOffDuration) {
			return ctx.Err()
		}
		p.mu.Lock()
		p.coolingOff = false
		p.messageCount = 0
		p.mu.Unlock()
		p.log.Info().Msg("cool-off finished, resuming consumption")
	}
}

func (p *Processor) handleFetch(ctx context.Context, d amqp.Delivery) {
	p.handle(ctx, d, messaging.ApplicationFetchQueue)
}

func (p *Processor) handleRefresh(ctx context.Context, d amqp.Delivery) {
	p.handle(ctx, d, messaging.RefreshStatusQueue)
}

func (p *Processor) handle(ctx context.Context, d amqp.Delivery, sourceQueue string) {
	if p.countAndCheckCoolOff(d) {
		return
	}

	p.setInflight(&d)
	defer p.setInflight(nil)

	msg, err := messaging.Decode(d.Body)
	if err != nil {
		p.log.Error().Err(err).Msg("undecodable job dropped")
		_ = d.Nack(false, false)
		return
	}

	retries := retryCount(d.Headers)
	key := msg.OAM()
	if !p.locks.tryAcquire(msg.RequestType, key, retries > 0) {
		p.log.Info().
			Str("application", key).
			Str("request_type", msg.RequestType).
			Msg("key already in flight, skipping")
		_ = d.Ack(false)
		return
	}
	defer func() {
		p.locks.release(msg.RequestType, key)
		p.collector.SetLocked(p.locks.count())
	}()
	p.collector.SetLocked(p.locks.count())

	// Retries travel through the queue with the retry header rather
	// than through redelivery, so a completed attempt is acked whatever
	// its outcome. An attempt interrupted by cancellation goes back to
	// the queue for the next instance.
	completed := false
	defer func() {
		if completed {
			_ = d.Ack(false)
		} else {
			_ = d.Nack(false, true)
		}
	}()

	if msg.RequestType == messaging.RequestRefresh && retries == 0 {
		if !p.jitter(ctx, msg) {
			return
		}
	}

	start := time.Now()
	status, fetchErr := p.engine.Fetch(ctx, msg)
	p.collector.RecordLatency(time.Since(start))

	if fetchErr != nil && ctx.Err() != nil {
		// Interrupted mid-fetch; not a portal failure, so it neither
		// counts against the retry budget nor the metrics.
		return
	}

	if fetchErr == nil && !strings.Contains(status, msg.Number) {
		// The portal sometimes answers for a neighboring number with a
		// trailing digit off.
		p.log.Warn().
			Str("application", key).
			Msg("returned status does not mention the requested number, treating as failed")
		fetchErr = fmt.Errorf("status does not match application number %s", msg.Number)
	}

	if fetchErr != nil {
		p.log.Error().Err(fetchErr).
			Str("application", key).
			Str("request_type", msg.RequestType).
			Msg("portal fetch failed")
		p.manageFailedRequest(ctx, msg, sourceQueue, retries)
		completed = true
		return
	}

	msg.Status = status
	if err := p.fabric.PublishWithHeaders(ctx, messaging.StatusUpdateQueue, msg, nil); err != nil {
		p.log.Error().Err(err).Str("application", key).Msg("failed to publish status update")
		p.collector.RecordFailure()
		return
	}
	completed = true
	p.collector.RecordSuccess()
	p.log.Info().
		Str("application", key).
		Str("request_type", msg.RequestType).
		Msg("status fetched")
}

// countAndCheckCoolOff enforces the message budget. Deliveries arriving
// while cooling off are requeued; the delivery that crosses the budget
// is still processed.
func (p *Processor) countAndCheckCoolOff(d amqp.Delivery) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.coolingOff {
		_ = d.Nack(false, true)
		return true
	}
	p.messageCount++
	if p.messageCount >= p.cfg.MaxMessages {
		p.coolingOff = true
		select {
		case p.coolOffC <- struct{}{}:
		default:
		}
	}
	return false
}

// jitter spreads refresh requests over U(5, JITTER_SECONDS) seconds.
func (p *Processor) jitter(ctx context.Context, msg *messaging.Message) bool {
	upper := p.cfg.JitterSeconds
	if upper <= 5 {
		return true
	}
	wait := time.Duration(5+rand.Intn(upper-5+1)) * time.Second
	p.log.Info().
		Str("application", msg.OAM()).
		Dur("jitter", wait).
		Msg("sleeping before refresh")
	p.collector.IncWaiting()
	defer p.collector.DecWaiting()
	return p.sleep(ctx, wait)
}

// manageFailedRequest republishes the job with a bumped retry counter,
// or escalates to a failed status update once the budget is spent.
func (p *Processor) manageFailedRequest(ctx context.Context, msg *messaging.Message, sourceQueue string, retries int) {
	next := retries + 1
	if next <= p.cfg.MaxRetries {
		headers := amqp.Table{messaging.RetryCountHeader: int32(next)}
		if err := p.fabric.PublishWithHeaders(ctx, sourceQueue, msg, headers); err != nil {
			p.log.Error().Err(err).Str("application", msg.OAM()).Msg("failed to republish for retry")
			p.collector.RecordFailure()
			return
		}
		p.collector.RecordRetry()
		p.log.Warn().
			Str("application", msg.OAM()).
			Int("retry", next).
			Int("max_retries", p.cfg.MaxRetries).
			Msg("fetch failed, retrying")
		return
	}

	msg.Failed = true
	msg.Status = fmt.Sprintf("ERROR: could not fetch status for application %s", msg.OAM())
	if err := p.fabric.PublishWithHeaders(ctx, messaging.StatusUpdateQueue, msg, nil); err != nil {
		p.log.Error().Err(err).Str("application", msg.OAM()).Msg("failed to publish failure update")
	}
	p.collector.RecordFailure()
	p.log.Error().
		Str("application", msg.OAM()).
		Int("retries", retries).
		Msg("retry budget spent, reporting failure")
}

func (p *Processor) setInflight(d *amqp.Delivery) {
	p.mu.Lock()
	p.inflight = d
	p.mu.Unlock()
}

// Shutdown returns the in-flight delivery to the queue, if any, and
// stops the engine.
func (p *Processor) Shutdown() {
	p.mu.Lock()
	d := p.inflight
	p.inflight = nil
	p.mu.Unlock()

	if d != nil {
		p.log.Info().Uint64("delivery_tag", d.DeliveryTag).Msg("returning in-flight delivery to the queue")
		_ = d.Nack(false, true)
	}
	p.engine.Close()
}

// retryCount reads the retry header, tolerating the integer widths the
// broker may use.
func retryCount(headers amqp.Table) int {
	v, ok := headers[messaging.RetryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	default:
		return 0
	}
}
