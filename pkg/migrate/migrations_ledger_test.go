package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/marketplace-ledger/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one %s migration, found %d", suffix, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestWalletLedgerMigrationEnforcesIdempotency(t *testing.T) {
	content := readMigration(t, "create_wallet_ledger_entries")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS wallet_ledger_entries",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_wallet_ledger_seller_order_type",
		"ON wallet_ledger_entries (seller_id, order_id, type)",
		"CHECK (amount_cents > 0)",
		"DROP TABLE IF EXISTS wallet_ledger_entries",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOrdersMigrationGuardsSplitAndLifecycle(t *testing.T) {
	content := readMigration(t, "create_orders")

	checks := []string{
		"CHECK (platform_fee_cents + seller_revenue_cents = gross_cents)",
		"CHECK (NOT is_delivered OR is_paid)",
		"CHECK (total_price_cents = items_price_cents + tax_price_cents + shipping_price_cents)",
		"CHECK (quantity > 0)",
		"wallet_balance_cents",
	}
	sellers := readMigration(t, "create_sellers")
	for _, sub := range checks {
		if !strings.Contains(content, sub) && !strings.Contains(sellers, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename to fail")
	}

	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "20260101000000_missing_down.sql"), []byte("-- +goose Up\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected missing down section to fail")
	}

	if err := migrate.ValidateDir(t.TempDir()); err == nil {
		t.Fatal("expected empty dir to fail")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payout Column!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payout_column.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected empty sanitized name to fail")
	}
}
