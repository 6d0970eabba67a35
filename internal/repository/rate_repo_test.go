package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/domain"
)

func TestRateRepo(t *testing.T) {
	db := newTestDB(t)
	repo := NewRateRepo(db)

	t.Run("no active rate yet", func(t *testing.T) {
		rate, err := repo.GetActive()
		if err != nil {
			t.Fatalf("get active: %v", err)
		}
		if rate != nil {
			t.Errorf("expected nil, got %+v", rate)
		}
	})

	t.Run("activating a new rate deactivates the old one", func(t *testing.T) {
		first := &domain.ExchangeRate{
			ID:          uuid.NewString(),
			UsdToNgn:    decimal.RequireFromString("1500"),
			NgnToUsd:    decimal.RequireFromString("0.00066667"),
			EffectiveAt: time.Now().UTC().Add(-time.Hour),
		}
		if err := repo.SetActive(first); err != nil {
			t.Fatalf("set active: %v", err)
		}

		second := &domain.ExchangeRate{
			ID:          uuid.NewString(),
			UsdToNgn:    decimal.RequireFromString("1600"),
			NgnToUsd:    decimal.RequireFromString("0.000625"),
			EffectiveAt: time.Now().UTC(),
		}
		if err := repo.SetActive(second); err != nil {
			t.Fatalf("set active: %v", err)
		}

		active, err := repo.GetActive()
		if err != nil {
			t.Fatalf("get active: %v", err)
		}
		if active == nil || active.ID != second.ID {
			t.Fatalf("expected the newest rate active, got %+v", active)
		}
		if !active.UsdToNgn.Equal(second.UsdToNgn) {
			t.Errorf("expected 1600, got %s", active.UsdToNgn)
		}

		var activeCount int
		if err := db.QueryRow(`SELECT COUNT(*) FROM exchange_rates WHERE active = 1`).Scan(&activeCount); err != nil {
			t.Fatalf("count active: %v", err)
		}
		if activeCount != 1 {
			t.Errorf("expected exactly one active rate, got %d", activeCount)
		}
	})
}
