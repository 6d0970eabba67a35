package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist.
func InitDB(dsn string) (*sql.DB, error) {
	// busy_timeout is a per-connection setting; passing it in the DSN makes
	// the driver apply it to every pooled connection, not just the one that
	// happens to execute a PRAGMA statement.
	db, err := sql.Open("sqlite", dsn+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Concurrent webhook deliveries race on the same donation row; let the
	// losing writer wait for the winner's commit instead of failing busy.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

// RunInTx runs fn inside a transaction, committing on nil and rolling back
// otherwise. The donation-completion path issues its conditional UPDATE as
// the first statement so the write lock covers the whole read-check-write
// sequence.
func RunInTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			target_amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			amount_raised TEXT NOT NULL DEFAULT '0',
			amount_spent TEXT NOT NULL DEFAULT '0',
			percentage_funded REAL NOT NULL DEFAULT 0,
			remaining_amount TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL,
			receiving_donations INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_category ON campaigns(category)`,

		`CREATE TABLE IF NOT EXISTS donations (
			id TEXT PRIMARY KEY,
			campaign_id TEXT,
			donor_email TEXT NOT NULL,
			donor_name TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			frequency TEXT NOT NULL,
			gateway TEXT NOT NULL,
			reference TEXT NOT NULL UNIQUE,
			plan_code TEXT NOT NULL DEFAULT '',
			agreement_id TEXT UNIQUE,
			parent_donation_id TEXT,
			status TEXT NOT NULL,
			converted_amount TEXT,
			exchange_rate_used TEXT,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			completed_at DATETIME,
			FOREIGN KEY (campaign_id) REFERENCES campaigns(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_donations_campaign ON donations(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_donations_status ON donations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_donations_plan_code ON donations(plan_code)`,
		`CREATE INDEX IF NOT EXISTS idx_donations_created_at ON donations(created_at)`,

		`CREATE TABLE IF NOT EXISTS exchange_rates (
			id TEXT PRIMARY KEY,
			usd_to_ngn TEXT NOT NULL,
			ngn_to_usd TEXT NOT NULL,
			effective_at DATETIME NOT NULL,
			active INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchange_rates_active ON exchange_rates(active)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}
