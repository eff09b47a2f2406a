package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-ledger/pkg/config"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/metrics"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/registry"
)

const ledgerTopic = "ledger-events"

type relay struct {
	svc    *Service
	repo   *queue
	pub    *brokerStub
	dlq    *dlqSink
	reg    *prometheus.Registry
	opened int
}

func newRelay(t *testing.T, rows ...models.OutboxEvent) *relay {
	t.Helper()
	r := &relay{repo: &queue{rows: rows}, pub: &brokerStub{}, dlq: &dlqSink{}, reg: prometheus.NewRegistry()}
	eventRegistry, err := registry.NewEventRegistry(config.PubSubConfig{LedgerTopic: ledgerTopic})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Config:        &config.Config{Outbox: config.OutboxConfig{BatchSize: 10, PollIntervalMS: 100, MaxAttempts: 3}},
		Logger:        logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:            txStub{},
		PubSub:        pubSubStub{},
		Repository:    r.repo,
		Registry:      eventRegistry,
		DLQRepository: r.dlq,
		Metrics:       metrics.NewOutboxMetrics(r.reg),
		PublisherFactory: func(topic string) publisher {
			r.opened++
			if topic != ledgerTopic {
				return nil
			}
			return r.pub
		},
	})
	require.NoError(t, err)
	r.svc = svc
	return r
}

func envelopeRow(t *testing.T, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID, data any) models.OutboxEvent {
	t.Helper()
	body, err := json.Marshal(data)
	require.NoError(t, err)
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Actor:      &outbox.ActorRef{Role: outbox.ActorRoleSystem},
		Data:       body,
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
	}
}

func creditRow(t *testing.T, sellerID, orderID uuid.UUID, amount int64) models.OutboxEvent {
	t.Helper()
	entryID := uuid.New()
	return envelopeRow(t, enums.EventWalletCredited, enums.AggregateLedgerEntry, entryID, payloads.WalletCreditedEvent{
		EntryID:     entryID,
		SellerID:    sellerID,
		OrderID:     orderID,
		AmountCents: amount,
		CreatedAt:   time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	})
}

func paidRow(t *testing.T, orderID, payloadOrderID uuid.UUID) models.OutboxEvent {
	t.Helper()
	return envelopeRow(t, enums.EventOrderPaid, enums.AggregateOrder, orderID, payloads.OrderPaidEvent{
		OrderID:          payloadOrderID,
		BuyerID:          uuid.New(),
		PaymentReference: "pi_123",
		TotalPriceCents:  715,
		PaidAt:           time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	})
}

func TestWalletCreditRoutesBySeller(t *testing.T) {
	sellerID, orderID := uuid.New(), uuid.New()
	row := creditRow(t, sellerID, orderID, 90)
	r := newRelay(t, row)

	progressed, err := r.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, []uuid.UUID{row.ID}, r.repo.published)

	require.Len(t, r.pub.sent, 1)
	msg := r.pub.sent[0]
	assert.Equal(t, "seller:"+sellerID.String(), msg.OrderingKey)
	assert.Equal(t, sellerID.String(), msg.Attributes["seller_id"])
	assert.Equal(t, orderID.String(), msg.Attributes["order_id"])
	assert.Equal(t, "90", msg.Attributes["amount_cents"])
	assert.Equal(t, string(enums.EventWalletCredited), msg.Attributes["event_type"])
	assert.Equal(t, "1", msg.Attributes["event_version"])
	assert.NotEmpty(t, msg.Attributes["event_id"])
	assert.JSONEq(t, string(row.Payload), string(msg.Data))

	expected := `
# HELP ledger_outbox_publish_total Outbox rows processed by the publisher.
# TYPE ledger_outbox_publish_total counter
ledger_outbox_publish_total{event_type="wallet_credited",result="published"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(r.reg, strings.NewReader(expected), "ledger_outbox_publish_total"))
}

func TestFailedCreditHoldsLaterCreditsOfSameSeller(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	first := creditRow(t, a, uuid.New(), 90)
	other := creditRow(t, b, uuid.New(), 45)
	second := creditRow(t, a, uuid.New(), 30)
	r := newRelay(t, first, other, second)
	r.pub.fail = func(msg *gcppubsub.Message) error {
		if msg.Attributes["amount_cents"] == "90" {
			return errors.New("deadline exceeded")
		}
		return nil
	}

	progressed, err := r.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)

	assert.Equal(t, []uuid.UUID{first.ID}, r.repo.failed)
	assert.Equal(t, []uuid.UUID{other.ID}, r.repo.published)
	assert.Empty(t, r.repo.terminal)
	require.Len(t, r.pub.sent, 2)
	for _, msg := range r.pub.sent {
		assert.NotEqual(t, "30", msg.Attributes["amount_cents"], "held credit must not be sent")
	}
	assert.Equal(t, []string{"seller:" + a.String()}, r.pub.resumed)

	expected := `
# HELP ledger_outbox_publish_total Outbox rows processed by the publisher.
# TYPE ledger_outbox_publish_total counter
ledger_outbox_publish_total{event_type="wallet_credited",result="deferred"} 1
ledger_outbox_publish_total{event_type="wallet_credited",result="failed"} 1
ledger_outbox_publish_total{event_type="wallet_credited",result="published"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(r.reg, strings.NewReader(expected), "ledger_outbox_publish_total"))
}

func TestOrderEventsShareOrderKey(t *testing.T) {
	orderID, buyerID := uuid.New(), uuid.New()
	created := envelopeRow(t, enums.EventOrderCreated, enums.AggregateOrder, orderID, payloads.OrderCreatedEvent{
		OrderID:         orderID,
		BuyerID:         buyerID,
		TotalPriceCents: 715,
		Sellers:         []payloads.SellerShare{{SellerID: uuid.New()}, {SellerID: uuid.New()}},
	})
	paid := paidRow(t, orderID, orderID)
	r := newRelay(t, created, paid)

	_, err := r.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, r.pub.sent, 2)

	key := "order:" + orderID.String()
	assert.Equal(t, key, r.pub.sent[0].OrderingKey)
	assert.Equal(t, key, r.pub.sent[1].OrderingKey)
	assert.Equal(t, "2", r.pub.sent[0].Attributes["seller_count"])
	assert.Equal(t, buyerID.String(), r.pub.sent[0].Attributes["buyer_id"])
	assert.Equal(t, orderID.String(), r.pub.sent[1].Attributes["order_id"])
	assert.Equal(t, "715", r.pub.sent[1].Attributes["total_price_cents"])
	assert.Equal(t, []uuid.UUID{created.ID, paid.ID}, r.repo.published)
}

func TestMismatchedOrderPayloadIsDeadLettered(t *testing.T) {
	row := paidRow(t, uuid.New(), uuid.New())
	r := newRelay(t, row)

	progressed, err := r.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Empty(t, r.pub.sent)

	require.Len(t, r.dlq.entries, 1)
	entry := r.dlq.entries[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.JSONEq(t, string(row.Payload), string(entry.Payload))
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "does not match aggregate")
	assert.Equal(t, []uuid.UUID{row.ID}, r.repo.terminal)
}

func TestUnknownEventTypeIsDeadLettered(t *testing.T) {
	row := envelopeRow(t, enums.OutboxEventType("payout_sent"), enums.AggregateLedgerEntry, uuid.New(), map[string]any{"amount_cents": 10})
	r := newRelay(t, row)

	_, err := r.svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, r.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, r.dlq.entries[0].ErrorReason)
	assert.Zero(t, r.opened)
}

func TestCreditAtAttemptBudgetIsDeadLetteredAndHoldsSeller(t *testing.T) {
	sellerID := uuid.New()
	exhausted := creditRow(t, sellerID, uuid.New(), 90)
	exhausted.AttemptCount = 2
	next := creditRow(t, sellerID, uuid.New(), 30)
	r := newRelay(t, exhausted, next)
	r.pub.fail = func(*gcppubsub.Message) error { return errors.New("unavailable") }

	_, err := r.svc.processBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, r.dlq.entries, 1)
	assert.Equal(t, exhausted.ID, r.dlq.entries[0].EventID)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, r.dlq.entries[0].ErrorReason)
	assert.Len(t, r.pub.sent, 1)
	assert.Empty(t, r.repo.failed)
}

func TestBatchWithoutProgressReportsIdle(t *testing.T) {
	r := newRelay(t, creditRow(t, uuid.New(), uuid.New(), 90))
	r.pub.fail = func(*gcppubsub.Message) error { return errors.New("unavailable") }

	progressed, err := r.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, progressed)
	assert.Len(t, r.repo.failed, 1)

	r.repo.rows = nil
	progressed, err = r.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, progressed)
}

func TestPublisherOpenedOncePerTopicAndStopped(t *testing.T) {
	sellerID := uuid.New()
	r := newRelay(t, creditRow(t, sellerID, uuid.New(), 10), creditRow(t, sellerID, uuid.New(), 20))

	_, err := r.svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.opened)
	assert.Len(t, r.pub.sent, 2)

	r.svc.stopPublishers()
	assert.Equal(t, 1, r.pub.stopped)
	assert.Empty(t, r.svc.publishers)
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.svc.Run(ctx), context.Canceled)
}

func TestNewBatchBackoffIsCapped(t *testing.T) {
	b := newBatchBackoff(time.Second)
	limit := maxBackoff + maxBackoff*jitterPercent/100
	for i := 0; i < 20; i++ {
		delay, stop := b.Next()
		require.False(t, stop, "backoff stopped after %d attempts", i)
		assert.LessOrEqual(t, delay, limit)
	}
}

type queue struct {
	rows      []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (q *queue) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	if len(q.rows) > limit {
		return q.rows[:limit], nil
	}
	return q.rows, nil
}

func (q *queue) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	q.published = append(q.published, id)
	return nil
}

func (q *queue) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	q.failed = append(q.failed, id)
	return nil
}

func (q *queue) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	q.terminal = append(q.terminal, id)
	return nil
}

type txStub struct{}

func (txStub) Ping(context.Context) error { return nil }

func (txStub) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type pubSubStub struct{}

func (pubSubStub) Ping(context.Context) error { return nil }

func (pubSubStub) Publisher(string) *gcppubsub.Publisher { return nil }

type brokerStub struct {
	fail    func(*gcppubsub.Message) error
	sent    []*gcppubsub.Message
	resumed []string
	stopped int
}

func (b *brokerStub) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	b.sent = append(b.sent, msg)
	if b.fail != nil {
		return ackResult{err: b.fail(msg)}
	}
	return ackResult{}
}

func (b *brokerStub) Resume(key string) { b.resumed = append(b.resumed, key) }

func (b *brokerStub) Stop() { b.stopped++ }

type ackResult struct{ err error }

func (a ackResult) Get(context.Context) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "server-id", nil
}

type dlqSink struct {
	entries []models.OutboxDLQ
}

func (d *dlqSink) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	d.entries = append(d.entries, entry)
	return nil
}
