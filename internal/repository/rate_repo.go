package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/needafrica/donations/internal/domain"
)

type RateRepo struct {
	db *sql.DB
}

func NewRateRepo(db *sql.DB) *RateRepo {
	return &RateRepo{db: db}
}

// GetActive returns the single active exchange rate, or nil when none has
// been configured. Reads are lock-free snapshots: an in-flight conversion
// keeps whichever rate it read even if an admin activates a new one.
func (r *RateRepo) GetActive() (*domain.ExchangeRate, error) {
	row := r.db.QueryRow(
		`SELECT id, usd_to_ngn, ngn_to_usd, effective_at, active
		FROM exchange_rates WHERE active = 1
		ORDER BY effective_at DESC LIMIT 1`,
	)

	var rate domain.ExchangeRate
	var effectiveAt string
	var active int
	err := row.Scan(&rate.ID, &rate.UsdToNgn, &rate.NgnToUsd, &effectiveAt, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active rate: %w", err)
	}

	rate.Active = active != 0
	rate.EffectiveAt, _ = time.Parse(time.RFC3339, effectiveAt)
	return &rate, nil
}

// SetActive inserts a new rate and deactivates every other one in the same
// transaction, preserving the at-most-one-active invariant.
func (r *RateRepo) SetActive(rate *domain.ExchangeRate) error {
	return RunInTx(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE exchange_rates SET active = 0 WHERE active = 1`); err != nil {
			return fmt.Errorf("deactivate rates: %w", err)
		}

		_, err := tx.Exec(
			`INSERT INTO exchange_rates (id, usd_to_ngn, ngn_to_usd, effective_at, active)
			VALUES (?,?,?,?,1)`,
			rate.ID, rate.UsdToNgn.String(), rate.NgnToUsd.String(),
			rate.EffectiveAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("insert rate: %w", err)
		}
		return nil
	})
}
