package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-ledger/pkg/enums"
)

// WalletLedgerUniqueIndex guards one credit per (seller, order, type).
const WalletLedgerUniqueIndex = "ux_wallet_ledger_seller_order_type"

// WalletLedgerEntry is an immutable wallet movement. Rows are never updated or deleted.
type WalletLedgerEntry struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SellerID    uuid.UUID             `gorm:"column:seller_id;type:uuid;not null;uniqueIndex:ux_wallet_ledger_seller_order_type,priority:1"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_wallet_ledger_seller_order_type,priority:2;index"`
	Type        enums.LedgerEntryType `gorm:"column:type;type:text;not null;uniqueIndex:ux_wallet_ledger_seller_order_type,priority:3"`
	AmountCents int64                 `gorm:"column:amount_cents;not null;check:chk_wallet_ledger_amount_positive,amount_cents > 0"`
	Note        string                `gorm:"column:note;not null;default:''"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (e *WalletLedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
