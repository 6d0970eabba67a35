package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/needafrica/donations/internal/domain"
)

type CampaignRepo struct {
	db *sql.DB
}

func NewCampaignRepo(db *sql.DB) *CampaignRepo {
	return &CampaignRepo{db: db}
}

const campaignColumns = `id, title, summary, category, target_amount, currency,
	amount_raised, amount_spent, percentage_funded, remaining_amount, status,
	receiving_donations, created_at, updated_at`

func (r *CampaignRepo) Insert(c *domain.Campaign) error {
	_, err := r.db.Exec(
		`INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Title, c.Summary, c.Category, c.TargetAmount.String(), c.Currency,
		c.AmountRaised.String(), c.AmountSpent.String(), c.PercentageFunded,
		c.RemainingAmount.String(), string(c.Status), boolToInt(c.ReceivingDonations),
		c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetByID(id string) (*domain.Campaign, error) {
	row := r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// GetTx reads a campaign inside an open transaction. The completion path
// calls this after its conditional donation UPDATE, so the row is read
// under the transaction's write lock.
func (r *CampaignRepo) GetTx(tx *sql.Tx, id string) (*domain.Campaign, error) {
	row := tx.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

// SaveProgressTx persists the raised total and the derived fields computed
// by Campaign.UpdateProgress, including a possible ACTIVE -> COMPLETED
// auto-transition.
func (r *CampaignRepo) SaveProgressTx(tx *sql.Tx, c *domain.Campaign) error {
	_, err := tx.Exec(
		`UPDATE campaigns
		SET amount_raised = ?, percentage_funded = ?, remaining_amount = ?,
			status = ?, updated_at = ?
		WHERE id = ?`,
		c.AmountRaised.String(), c.PercentageFunded, c.RemainingAmount.String(),
		string(c.Status), time.Now().UTC().Format(time.RFC3339), c.ID,
	)
	if err != nil {
		return fmt.Errorf("save campaign progress: %w", err)
	}
	return nil
}

// UpdateSpent records money paid out of the campaign.
func (r *CampaignRepo) UpdateSpent(c *domain.Campaign) error {
	_, err := r.db.Exec(
		`UPDATE campaigns SET amount_spent = ?, updated_at = ? WHERE id = ?`,
		c.AmountSpent.String(), time.Now().UTC().Format(time.RFC3339), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update campaign spent: %w", err)
	}
	return nil
}

type CampaignFilter struct {
	Search   string
	Category string
	Status   string
	Page     int
	Limit    int
}

func (r *CampaignRepo) List(f CampaignFilter) ([]domain.Campaign, int, error) {
	where, args := buildCampaignWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, total, rows.Err()
}

// CampaignStats holds aggregate campaign statistics for the dashboard.
type CampaignStats struct {
	Total          int     `json:"total"`
	Active         int     `json:"active"`
	Completed      int     `json:"completed"`
	TotalRaised    float64 `json:"total_raised"`
	TotalTarget    float64 `json:"total_target"`
	TotalRemaining float64 `json:"total_remaining"`
}

func (r *CampaignRepo) GetStats() (*CampaignStats, error) {
	s := &CampaignStats{}
	err := r.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status='ACTIVE' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='COMPLETED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CAST(amount_raised AS REAL)), 0),
			COALESCE(SUM(CAST(target_amount AS REAL)), 0),
			COALESCE(SUM(CAST(remaining_amount AS REAL)), 0)
		FROM campaigns
	`).Scan(&s.Total, &s.Active, &s.Completed, &s.TotalRaised,
		&s.TotalTarget, &s.TotalRemaining)
	return s, err
}

// --- helpers ---

func buildCampaignWhere(f CampaignFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Search != "" {
		clauses = append(clauses, "(title LIKE ? OR summary LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, strings.ToUpper(f.Status))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanCampaign(s rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var status, createdAt, updatedAt string
	var receiving int

	err := s.Scan(
		&c.ID, &c.Title, &c.Summary, &c.Category, &c.TargetAmount, &c.Currency,
		&c.AmountRaised, &c.AmountSpent, &c.PercentageFunded, &c.RemainingAmount,
		&status, &receiving, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = domain.CampaignStatus(status)
	c.ReceivingDonations = receiving != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &c, nil
}
