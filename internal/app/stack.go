// Package app assembles the ledger domain services shared by the worker binaries.
package app

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-ledger/internal/commission"
	"github.com/angelmondragon/marketplace-ledger/internal/delivery"
	"github.com/angelmondragon/marketplace-ledger/internal/ledger"
	"github.com/angelmondragon/marketplace-ledger/internal/orders"
	"github.com/angelmondragon/marketplace-ledger/internal/settlement"
	"github.com/angelmondragon/marketplace-ledger/internal/wallet"
	"github.com/angelmondragon/marketplace-ledger/pkg/config"
	"github.com/angelmondragon/marketplace-ledger/pkg/db"
	"github.com/angelmondragon/marketplace-ledger/pkg/logger"
	"github.com/angelmondragon/marketplace-ledger/pkg/metrics"
	"github.com/angelmondragon/marketplace-ledger/pkg/outbox"
)

// StackParams carry the shared clients the domain services are built on.
type StackParams struct {
	Config     *config.Config
	DB         *db.Client
	Logger     *logger.Logger
	Registerer prometheus.Registerer
}

// Stack holds the wired domain services.
type Stack struct {
	Orders     orders.Service
	OrdersRepo orders.Repository
	Ledger     ledger.Service
	Wallet     wallet.Service
	WalletRepo wallet.Repository
	Projector  *wallet.Projector
	Delivery   delivery.Service
	Settlement *settlement.Engine
	Outbox     *outbox.Service
}

// NewStack wires commission, ledger, wallet, settlement, orders and delivery
// against one database client.
func NewStack(p StackParams) (*Stack, error) {
	if p.Config == nil {
		return nil, errors.New("config is required")
	}
	if p.DB == nil {
		return nil, errors.New("database client is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}

	rate, err := p.Config.Commission.PlatformRate()
	if err != nil {
		return nil, err
	}
	resolver, err := commission.NewFixedRate(rate)
	if err != nil {
		return nil, fmt.Errorf("commission rate: %w", err)
	}
	calculator, err := commission.NewCalculator(resolver)
	if err != nil {
		return nil, err
	}

	gormDB := p.DB.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), p.Logger)

	walletRepo := wallet.NewRepository(gormDB)
	projector, err := wallet.NewProjector(walletRepo, p.DB, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("balance projector: %w", err)
	}
	walletSvc, err := wallet.NewService(walletRepo)
	if err != nil {
		return nil, fmt.Errorf("wallet service: %w", err)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(gormDB), p.DB, projector, outboxSvc, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	engine, err := settlement.NewEngine(
		ledgerSvc,
		settlement.OptionsFromConfig(p.Config.Settlement),
		metrics.NewSettlementMetrics(p.Registerer),
		p.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("settlement engine: %w", err)
	}

	ordersRepo := orders.NewRepository(gormDB)
	ordersSvc, err := orders.NewService(ordersRepo, p.DB, outboxSvc, calculator, engine, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	deliverySvc, err := delivery.NewService(delivery.NewRepository(gormDB), p.DB, outboxSvc, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("delivery service: %w", err)
	}

	return &Stack{
		Orders:     ordersSvc,
		OrdersRepo: ordersRepo,
		Ledger:     ledgerSvc,
		Wallet:     walletSvc,
		WalletRepo: walletRepo,
		Projector:  projector,
		Delivery:   deliverySvc,
		Settlement: engine,
		Outbox:     outboxSvc,
	}, nil
}
