// Package settlement credits every seller of a paid order exactly once.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketplace-ledger/internal/commission"
	"github.com/angelmondragon/marketplace-ledger/internal/ledger"
	"github.com/angelmondragon/marketplace-ledger/pkg/config"
	"github.com/angelmondragon/marketplace-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-ledger/pkg/errors"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/metrics"
	"github.com/angelmondragon/marketplace-ledger/pkg/tracing"
)

// Creditor records one seller credit idempotently.
type Creditor interface {
	Credit(ctx context.Context, input ledger.CreditInput) (ledger.CreditResult, error)
}

// Options bound the per-seller retry loop and fan-out.
type Options struct {
	MaxRetries  uint64
	RetryBase   time.Duration
	RetryCap    time.Duration
	Parallelism int
}

// OptionsFromConfig maps the settlement config section.
func OptionsFromConfig(cfg config.SettlementConfig) Options {
	return Options{
		MaxRetries:  cfg.MaxRetries,
		RetryBase:   cfg.RetryBase,
		RetryCap:    cfg.RetryCap,
		Parallelism: cfg.Parallelism,
	}
}

// SellerOutcome is the result of crediting one seller.
type SellerOutcome struct {
	SellerID    uuid.UUID
	AmountCents int64
	Outcome     string
	EntryID     uuid.UUID
	Attempts    int
	Err         error
}

// Result lists the outcome for every seller with a non-zero share.
type Result struct {
	OrderID uuid.UUID
	Sellers []SellerOutcome
}

// Complete reports whether every seller share is recorded in the ledger.
func (r *Result) Complete() bool {
	for _, s := range r.Sellers {
		if s.Outcome == metrics.OutcomeFailed {
			return false
		}
	}
	return true
}

// Failed returns the sellers still owed a credit.
func (r *Result) Failed() []SellerOutcome {
	var failed []SellerOutcome
	for _, s := range r.Sellers {
		if s.Outcome == metrics.OutcomeFailed {
			failed = append(failed, s)
		}
	}
	return failed
}

// Engine fans credits out per seller. It holds no locks; the ledger's unique
// index serializes concurrent settlements of the same order.
type Engine struct {
	credits Creditor
	opts    Options
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
}

// NewEngine wires the settlement engine.
func NewEngine(credits Creditor, opts Options, m *metrics.SettlementMetrics, logg *logger.Logger) (*Engine, error) {
	if credits == nil {
		return nil, fmt.Errorf("ledger creditor required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 100 * time.Millisecond
	}
	return &Engine{credits: credits, opts: opts, metrics: m, logg: logg}, nil
}

type share struct {
	sellerID uuid.UUID
	amount   int64
}

// sellerShares sums frozen seller revenue per seller in line item order, dropping zero totals.
func sellerShares(order *models.Order) ([]share, error) {
	index := map[uuid.UUID]int{}
	var shares []share
	for _, item := range order.Items {
		i, ok := index[item.SellerID]
		if !ok {
			i = len(shares)
			index[item.SellerID] = i
			shares = append(shares, share{sellerID: item.SellerID})
		}
		sum, err := commission.AddCents(shares[i].amount, item.SellerRevenueCents)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("seller %s revenue is invalid", item.SellerID))
		}
		shares[i].amount = sum
	}
	kept := shares[:0]
	for _, s := range shares {
		if s.amount > 0 {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

// Settle credits each seller of order. One seller failing never stops the
// others. When any credit is still outstanding Result lists every outcome and
// the error is a retryable CodeDependency error, unless every failure is
// permanent, in which case it carries the first permanent code.
func (e *Engine) Settle(ctx context.Context, order *models.Order) (result *Result, err error) {
	if order == nil || order.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}

	started := time.Now()
	ctx, span := tracing.Start(ctx, "settlement.Settle")
	span.SetAttributes(attribute.String("order_id", order.ID.String()))
	defer func() {
		complete := err == nil
		e.metrics.ObserveRun(time.Since(started), complete)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	shares, err := sellerShares(order)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("sellers", len(shares)))
	result = &Result{OrderID: order.ID, Sellers: make([]SellerOutcome, len(shares))}

	var g errgroup.Group
	g.SetLimit(e.opts.Parallelism)
	for i, s := range shares {
		g.Go(func() error {
			result.Sellers[i] = e.creditSeller(ctx, order.ID, s)
			return nil
		})
	}
	_ = g.Wait()

	var (
		combined  error
		retryable bool
		permanent pkgerrors.Code
	)
	for _, outcome := range result.Sellers {
		e.metrics.IncCredit(outcome.Outcome)
		if outcome.Err == nil {
			continue
		}
		combined = multierr.Append(combined, fmt.Errorf("seller %s: %w", outcome.SellerID, outcome.Err))
		if pkgerrors.IsRetryable(outcome.Err) {
			retryable = true
		} else if permanent == "" {
			permanent = pkgerrors.As(outcome.Err).Code()
		}
	}
	if combined != nil {
		failed := len(multierr.Errors(combined))
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"order_id":       order.ID.String(),
			"failed_sellers": failed,
			"total_sellers":  len(shares),
			"retryable":      retryable,
			"trace_id":       tracing.TraceID(ctx),
		})
		e.logg.Warn(logCtx, "settlement incomplete")
		// Redelivery cannot fix a failure that is permanent for every seller.
		code := pkgerrors.CodeDependency
		if !retryable {
			code = permanent
		}
		return result, pkgerrors.Wrap(code, combined,
			fmt.Sprintf("settlement incomplete: %d of %d seller credits outstanding", failed, len(shares)))
	}
	return result, nil
}

func (e *Engine) creditSeller(ctx context.Context, orderID uuid.UUID, s share) SellerOutcome {
	outcome := SellerOutcome{SellerID: s.sellerID, AmountCents: s.amount}
	input := ledger.CreditInput{
		SellerID:    s.sellerID,
		OrderID:     orderID,
		AmountCents: s.amount,
		Note:        fmt.Sprintf("settlement of order %s", orderID),
	}

	var credited ledger.CreditResult
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		outcome.Attempts++
		e.metrics.IncAttempt()
		res, err := e.credits.Credit(ctx, input)
		if err != nil {
			if pkgerrors.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		credited = res
		return nil
	})
	if err != nil {
		outcome.Outcome = metrics.OutcomeFailed
		outcome.Err = err
		logCtx := e.logg.WithSellerID(e.logg.WithOrderID(ctx, orderID.String()), s.sellerID.String())
		e.logg.Error(e.logg.WithField(logCtx, "attempts", outcome.Attempts), "seller credit failed", err)
		return outcome
	}

	outcome.Outcome = metrics.OutcomeDuplicate
	if credited.Applied {
		outcome.Outcome = metrics.OutcomeApplied
	}
	if credited.Entry != nil {
		outcome.EntryID = credited.Entry.ID
	}
	return outcome
}

func (e *Engine) backoff() retry.Backoff {
	b := retry.NewExponential(e.opts.RetryBase)
	b = retry.WithJitterPercent(10, b)
	if e.opts.RetryCap > 0 {
		b = retry.WithCappedDuration(e.opts.RetryCap, b)
	}
	return retry.WithMaxRetries(e.opts.MaxRetries, b)
}
