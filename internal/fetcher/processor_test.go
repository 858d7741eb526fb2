package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appwatch/mvcr-status-bot/internal/messaging"
)

type fakeAcker struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcker) Ack(uint64, bool) error          { a.acked = true; return nil }
func (a *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}
func (a *fakeAcker) Reject(uint64, bool) error { return nil }

type published struct {
	queue   string
	msg     messaging.Message
	headers amqp.Table
}

type fakeBroker struct {
	published []published
}

func (b *fakeBroker) Publish(_ context.Context, queue string, msg *messaging.Message) error {
	b.published = append(b.published, published{queue: queue, msg: *msg})
	return nil
}

func (b *fakeBroker) PublishWithHeaders(_ context.Context, queue string, msg *messaging.Message, headers amqp.Table) error {
	b.published = append(b.published, published{queue: queue, msg: *msg, headers: headers})
	return nil
}

func (b *fakeBroker) Consume(context.Context, string, int, func(context.Context, amqp.Delivery)) (string, error) {
	return "tag", nil
}

func (b *fakeBroker) Cancel(string) error { return nil }

type fakeEngine struct {
	status string
	err    error
	calls  int
}

func (e *fakeEngine) Fetch(context.Context, *messaging.Message) (string, error) {
	e.calls++
	return e.status, e.err
}

func (e *fakeEngine) Close() {}

func testProcessor(engine *fakeEngine) (*Processor, *fakeBroker) {
	b := &fakeBroker{}
	p := NewProcessor(b, engine, newCollector("fetcher-test", metricsWindow, time.Now), Config{
		JitterSeconds:   0,
		MaxRetries:      2,
		MaxMessages:     100,
		CoolOffDuration: time.Second,
	})
	p.sleep = func(context.Context, time.Duration) bool { return true }
	return p, b
}

func delivery(t *testing.T, msg *messaging.Message, headers amqp.Table) (amqp.Delivery, *fakeAcker) {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	acker := &fakeAcker{}
	return amqp.Delivery{Acknowledger: acker, Body: body, Headers: headers}, acker
}

func job(requestType string) *messaging.Message {
	return &messaging.Message{
		ChatID:      42,
		Number:      "12345",
		Suffix:      "0",
		Type:        "TP",
		Year:        2023,
		RequestType: requestType,
		LastUpdated: "0",
	}
}

func TestSuccessfulFetchPublishesStatusUpdate(t *testing.T) {
	engine := &fakeEngine{status: "Žádost 12345 se zpracovává"}
	p, b := testProcessor(engine)

	d, acker := delivery(t, job(messaging.RequestFetch), nil)
	p.handle(context.Background(), d, messaging.ApplicationFetchQueue)

	require.Len(t, b.published, 1)
	assert.Equal(t, messaging.StatusUpdateQueue, b.published[0].queue)
	assert.Equal(t, "Žádost 12345 se zpracovává", b.published[0].msg.Status)
	assert.False(t, b.published[0].msg.Failed)
	assert.True(t, acker.acked)
}

func TestMismatchedNumberTriggersRetry(t *testing.T) {
	engine := &fakeEngine{status: "Žádost 1234 se zpracovává"}
	p, b := testProcessor(engine)

	d, acker := delivery(t, job(messaging.RequestFetch), nil)
	p.handle(context.Background(), d, messaging.ApplicationFetchQueue)

	require.Len(t, b.published, 1)
	assert.Equal(t, messaging.ApplicationFetchQueue, b.published[0].queue, "retry goes back to the source queue")
	assert.Equal(t, int32(1), b.published[0].headers[messaging.RetryCountHeader])
	assert.True(t, acker.acked)
}

func TestRetryBudgetExhaustionEscalates(t *testing.T) {
	engine := &fakeEngine{err: errors.New("portal down")}
	p, b := testProcessor(engine)

	d, _ := delivery(t, job(messaging.RequestRefresh), amqp.Table{messaging.RetryCountHeader: int32(2)})
	p.handle(context.Background(), d, messaging.RefreshStatusQueue)

	require.Len(t, b.published, 1)
	assert.Equal(t, messaging.StatusUpdateQueue, b.published[0].queue)
	assert.True(t, b.published[0].msg.Failed)
	assert.Contains(t, b.published[0].msg.Status, "ERROR")
	assert.Contains(t, b.published[0].msg.Status, "12345")
}

func TestDuplicateKeyIsSkippedAndAcked(t *testing.T) {
	engine := &fakeEngine{status: "Žádost 12345 se zpracovává"}
	p, b := testProcessor(engine)

	require.True(t, p.locks.tryAcquire(messaging.RequestFetch, job(messaging.RequestFetch).OAM(), false))

	d, acker := delivery(t, job(messaging.RequestFetch), nil)
	p.handle(context.Background(), d, messaging.ApplicationFetchQueue)

	assert.True(t, acker.acked)
	assert.Zero(t, engine.calls)
	assert.Empty(t, b.published)
}

func TestRefreshWaitsJitterButRetriesDoNot(t *testing.T) {
	engine := &fakeEngine{status: "Žádost 12345 se zpracovává"}
	p, _ := testProcessor(engine)
	p.cfg.JitterSeconds = 30

	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) bool {
		slept = append(slept, d)
		return true
	}

	d, _ := delivery(t, job(messaging.RequestRefresh), nil)
	p.handle(context.Background(), d, messaging.RefreshStatusQueue)
	require.Len(t, slept, 1)
	assert.GreaterOrEqual(t, slept[0], 5*time.Second)
	assert.LessOrEqual(t, slept[0], 30*time.Second)

	slept = nil
	d, _ = delivery(t, job(messaging.RequestRefresh), amqp.Table{messaging.RetryCountHeader: int32(1)})
	p.handle(context.Background(), d, messaging.RefreshStatusQueue)
	assert.Empty(t, slept, "retries must not wait out the jitter")
}

func TestMessageBudgetTriggersCoolOff(t *testing.T) {
	engine := &fakeEngine{status: "Žádost 12345 se zpracovává"}
	p, _ := testProcessor(engine)
	p.cfg.MaxMessages = 2

	for i := 0; i < 2; i++ {
		d, _ := delivery(t, job(messaging.RequestFetch), nil)
		p.handle(context.Background(), d, messaging.ApplicationFetchQueue)
	}

	select {
	case <-p.coolOffC:
	default:
		t.Fatal("cool-off was not triggered after the message budget")
	}

	// While cooling off, deliveries are requeued untouched.
	d, acker := delivery(t, job(messaging.RequestFetch), nil)
	p.handle(context.Background(), d, messaging.ApplicationFetchQueue)
	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue)
	assert.Equal(t, 2, engine.calls)
}

func TestInterruptedJitterRequeuesDelivery(t *testing.T) {
	engine := &fakeEngine{status: "Žádost 12345 se zpracovává"}
	p, b := testProcessor(engine)
	p.cfg.JitterSeconds = 30
	p.sleep = func(context.Context, time.Duration) bool { return false }

	d, acker := delivery(t, job(messaging.RequestRefresh), nil)
	p.handle(context.Background(), d, messaging.RefreshStatusQueue)

	assert.False(t, acker.acked, "an interrupted delivery must not be acked away")
	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue)
	assert.Zero(t, engine.calls)
	assert.Empty(t, b.published)
}

func TestCancelledFetchRequeuesDelivery(t *testing.T) {
	engine := &fakeEngine{err: context.Canceled}
	p, b := testProcessor(engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, acker := delivery(t, job(messaging.RequestFetch), nil)
	p.handle(ctx, d, messaging.ApplicationFetchQueue)

	assert.False(t, acker.acked)
	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue)
	assert.Empty(t, b.published, "a cancelled attempt must not count against the retry budget")
}

func TestShutdownRequeuesInflight(t *testing.T) {
	engine := &fakeEngine{status: "Žádost 12345 se zpracovává"}
	p, _ := testProcessor(engine)

	acker := &fakeAcker{}
	d := amqp.Delivery{Acknowledger: acker, DeliveryTag: 7}
	p.setInflight(&d)
	p.Shutdown()

	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue)
}
