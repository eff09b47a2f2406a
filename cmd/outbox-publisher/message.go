package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox/registry"
)

// buildMessage turns a resolved row into a Pub/Sub message. Wallet credits are
// keyed by seller so each wallet feed stays ordered; order events are keyed by
// order. Domain attributes let subscriptions filter without decoding the body.
func buildMessage(row models.OutboxEvent, resolved *registry.ResolvedEvent) (*gcppubsub.Message, error) {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"event_version":  strconv.Itoa(resolved.Envelope.Version),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
	}

	var key string
	switch p := resolved.Payload.(type) {
	case *payloads.WalletCreditedEvent:
		if p.SellerID == uuid.Nil || p.OrderID == uuid.Nil {
			return nil, registry.NewNonRetryableError(errors.New("wallet credit without seller or order"))
		}
		if p.AmountCents <= 0 {
			return nil, registry.NewNonRetryableError(fmt.Errorf("wallet credit amount %d is not positive", p.AmountCents))
		}
		key = "seller:" + p.SellerID.String()
		attrs["seller_id"] = p.SellerID.String()
		attrs["order_id"] = p.OrderID.String()
		attrs["amount_cents"] = strconv.FormatInt(p.AmountCents, 10)
	case *payloads.OrderCreatedEvent:
		if err := sameOrder(row, p.OrderID, attrs); err != nil {
			return nil, err
		}
		attrs["buyer_id"] = p.BuyerID.String()
		attrs["total_price_cents"] = strconv.FormatInt(p.TotalPriceCents, 10)
		attrs["seller_count"] = strconv.Itoa(len(p.Sellers))
	case *payloads.OrderPaidEvent:
		if err := sameOrder(row, p.OrderID, attrs); err != nil {
			return nil, err
		}
		attrs["buyer_id"] = p.BuyerID.String()
		attrs["total_price_cents"] = strconv.FormatInt(p.TotalPriceCents, 10)
	case *payloads.OrderDeliveredEvent:
		if err := sameOrder(row, p.OrderID, attrs); err != nil {
			return nil, err
		}
		attrs["buyer_id"] = p.BuyerID.String()
	}
	if key == "" {
		key = string(row.AggregateType) + ":" + row.AggregateID.String()
	}

	return &gcppubsub.Message{
		Data:        row.Payload,
		Attributes:  attrs,
		OrderingKey: key,
	}, nil
}

// sameOrder rejects order events whose payload names another order than the row.
// On success it records order_id on attrs.
func sameOrder(row models.OutboxEvent, orderID uuid.UUID, attrs map[string]string) error {
	if orderID != row.AggregateID {
		return registry.NewNonRetryableError(fmt.Errorf("payload order %s does not match aggregate %s", orderID, row.AggregateID))
	}
	attrs["order_id"] = orderID.String()
	return nil
}

func rowFields(row models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func messageFields(row models.OutboxEvent, msg *gcppubsub.Message, topic string) map[string]any {
	fields := rowFields(row)
	fields["topic"] = topic
	fields["ordering_key"] = msg.OrderingKey
	fields["event_id"] = msg.Attributes["event_id"]
	for _, name := range []string{"seller_id", "order_id", "amount_cents"} {
		if v, ok := msg.Attributes[name]; ok {
			fields[name] = v
		}
	}
	return fields
}

// orderedPublisherFactory opens one ordering-enabled publisher per topic.
func orderedPublisherFactory(client pubSubClient) publisherFactory {
	return func(topic string) publisher {
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		p.EnableMessageOrdering = true
		return &gcpPublisher{Publisher: p}
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

func (p *gcpPublisher) Resume(orderingKey string) {
	if orderingKey != "" {
		p.Publisher.ResumePublish(orderingKey)
	}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
