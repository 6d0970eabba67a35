package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/domain"
)

type DonationRepo struct {
	db *sql.DB
}

func NewDonationRepo(db *sql.DB) *DonationRepo {
	return &DonationRepo{db: db}
}

const donationColumns = `id, campaign_id, donor_email, donor_name, amount, currency,
	frequency, gateway, reference, plan_code, agreement_id, parent_donation_id,
	status, converted_amount, exchange_rate_used, failure_reason, created_at, completed_at`

func (r *DonationRepo) Insert(d *domain.Donation) error {
	return insertDonation(r.db, d)
}

// InsertTx inserts a donation inside an open transaction. Used for
// recurring renewals, which are written in the same atomic unit as the
// campaign credit.
func (r *DonationRepo) InsertTx(tx *sql.Tx, d *domain.Donation) error {
	return insertDonation(tx, d)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertDonation(e execer, d *domain.Donation) error {
	_, err := e.Exec(
		`INSERT INTO donations (`+donationColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, nullString(d.CampaignID), d.DonorEmail, d.DonorName,
		d.Amount.String(), d.Currency, string(d.Frequency), string(d.Gateway),
		d.Reference, d.PlanCode, nullString(d.AgreementID),
		nullString(d.ParentDonationID), string(d.Status),
		nullDecimal(d.ConvertedAmount), nullDecimal(d.ExchangeRateUsed),
		d.FailureReason, d.CreatedAt.Format(time.RFC3339),
		formatNullableTime(d.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

func (r *DonationRepo) GetByID(id string) (*domain.Donation, error) {
	row := r.db.QueryRow(`SELECT `+donationColumns+` FROM donations WHERE id = ?`, id)
	return scanDonation(row)
}

func (r *DonationRepo) GetByReference(reference string) (*domain.Donation, error) {
	row := r.db.QueryRow(`SELECT `+donationColumns+` FROM donations WHERE reference = ?`, reference)
	return scanDonation(row)
}

func (r *DonationRepo) GetByAgreementID(agreementID string) (*domain.Donation, error) {
	row := r.db.QueryRow(`SELECT `+donationColumns+` FROM donations WHERE agreement_id = ?`, agreementID)
	return scanDonation(row)
}

// GetFirstByPlanCode returns the original donation of a recurring series.
func (r *DonationRepo) GetFirstByPlanCode(planCode string) (*domain.Donation, error) {
	row := r.db.QueryRow(
		`SELECT `+donationColumns+` FROM donations
		WHERE plan_code = ? AND parent_donation_id IS NULL
		ORDER BY created_at LIMIT 1`,
		planCode,
	)
	return scanDonation(row)
}

// MarkCompleted performs the guarded PENDING -> COMPLETED transition. It
// returns the number of rows changed: 0 means some other caller already
// moved the donation out of PENDING, and the caller must re-check the
// status to tell AlreadyProcessed apart from a terminal failure.
func (r *DonationRepo) MarkCompleted(tx *sql.Tx, id string, completedAt time.Time, converted, rateUsed decimal.Decimal, agreementID string) (int64, error) {
	res, err := tx.Exec(
		`UPDATE donations
		SET status = ?, completed_at = ?, converted_amount = ?, exchange_rate_used = ?,
			agreement_id = COALESCE(NULLIF(?, ''), agreement_id)
		WHERE id = ? AND status = ?`,
		string(domain.DonationCompleted), completedAt.Format(time.RFC3339),
		converted.String(), rateUsed.String(), agreementID,
		id, string(domain.DonationPending),
	)
	if err != nil {
		return 0, fmt.Errorf("mark completed: %w", err)
	}
	return res.RowsAffected()
}

// StatusTx reads a donation's status inside an open transaction.
func (r *DonationRepo) StatusTx(tx *sql.Tx, id string) (domain.DonationStatus, error) {
	var status string
	err := tx.QueryRow(`SELECT status FROM donations WHERE id = ?`, id).Scan(&status)
	if err != nil {
		return "", err
	}
	return domain.DonationStatus(status), nil
}

// MarkFailed records a gateway-reported failure. Only PENDING donations
// move; terminal states are left untouched.
func (r *DonationRepo) MarkFailed(reference, reason string) (int64, error) {
	res, err := r.db.Exec(
		`UPDATE donations SET status = ?, failure_reason = ?
		WHERE reference = ? AND status = ?`,
		string(domain.DonationFailed), reason, reference, string(domain.DonationPending),
	)
	if err != nil {
		return 0, fmt.Errorf("mark failed: %w", err)
	}
	return res.RowsAffected()
}

func (r *DonationRepo) MarkCancelled(reference string) (int64, error) {
	res, err := r.db.Exec(
		`UPDATE donations SET status = ? WHERE reference = ? AND status = ?`,
		string(domain.DonationCancelled), reference, string(domain.DonationPending),
	)
	if err != nil {
		return 0, fmt.Errorf("mark cancelled: %w", err)
	}
	return res.RowsAffected()
}

type DonationFilter struct {
	Search    string
	Status    string
	Frequency string
	Gateway   string
	Page      int
	Limit     int
}

func (r *DonationRepo) List(f DonationFilter) ([]domain.Donation, int, error) {
	where, args := buildDonationWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM donations"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	query := `SELECT ` + donationColumns + ` FROM donations` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var donations []domain.Donation
	for rows.Next() {
		d, err := scanDonationRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		donations = append(donations, *d)
	}
	return donations, total, rows.Err()
}

// Metrics holds aggregate donation statistics for the dashboard. Sums are
// over completed donations' converted amounts (campaign currency).
type Metrics struct {
	TotalDonations int     `json:"total_donations"`
	CompletedCount int     `json:"completed_count"`
	TotalAmount    float64 `json:"total_amount"`
	TodayAmount    float64 `json:"today_amount"`
	WeekAmount     float64 `json:"week_amount"`
	MonthAmount    float64 `json:"month_amount"`
}

func (r *DonationRepo) GetMetrics(todayStart, weekStart, monthStart time.Time) (*Metrics, error) {
	m := &Metrics{}
	err := r.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status='COMPLETED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='COMPLETED' THEN CAST(converted_amount AS REAL) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='COMPLETED' AND completed_at >= ? THEN CAST(converted_amount AS REAL) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='COMPLETED' AND completed_at >= ? THEN CAST(converted_amount AS REAL) ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='COMPLETED' AND completed_at >= ? THEN CAST(converted_amount AS REAL) ELSE 0 END), 0)
		FROM donations
	`, todayStart.Format(time.RFC3339), weekStart.Format(time.RFC3339),
		monthStart.Format(time.RFC3339),
	).Scan(&m.TotalDonations, &m.CompletedCount, &m.TotalAmount,
		&m.TodayAmount, &m.WeekAmount, &m.MonthAmount)
	return m, err
}

// --- helpers ---

func buildDonationWhere(f DonationFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Search != "" {
		clauses = append(clauses, "(donor_name LIKE ? OR donor_email LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, strings.ToUpper(f.Status))
	}
	if f.Frequency != "" {
		clauses = append(clauses, "frequency = ?")
		args = append(args, strings.ToUpper(f.Frequency))
	}
	if f.Gateway != "" {
		clauses = append(clauses, "gateway = ?")
		args = append(args, strings.ToUpper(f.Gateway))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonation(row *sql.Row) (*domain.Donation, error) {
	d, err := scanDonationFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func scanDonationRows(rows *sql.Rows) (*domain.Donation, error) {
	return scanDonationFrom(rows)
}

func scanDonationFrom(s rowScanner) (*domain.Donation, error) {
	var d domain.Donation
	var campaignID, agreementID, parentID sql.NullString
	var converted, rateUsed sql.NullString
	var frequency, gw, status, createdAt string
	var completedAt sql.NullString

	err := s.Scan(
		&d.ID, &campaignID, &d.DonorEmail, &d.DonorName, &d.Amount, &d.Currency,
		&frequency, &gw, &d.Reference, &d.PlanCode, &agreementID, &parentID,
		&status, &converted, &rateUsed, &d.FailureReason, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	d.CampaignID = campaignID.String
	d.AgreementID = agreementID.String
	d.ParentDonationID = parentID.String
	d.Frequency = domain.Frequency(frequency)
	d.Gateway = domain.GatewayName(gw)
	d.Status = domain.DonationStatus(status)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if converted.Valid {
		dec, err := decimal.NewFromString(converted.String)
		if err != nil {
			return nil, fmt.Errorf("parse converted_amount: %w", err)
		}
		d.ConvertedAmount = decimal.NullDecimal{Decimal: dec, Valid: true}
	}
	if rateUsed.Valid {
		dec, err := decimal.NewFromString(rateUsed.String)
		if err != nil {
			return nil, fmt.Errorf("parse exchange_rate_used: %w", err)
		}
		d.ExchangeRateUsed = decimal.NullDecimal{Decimal: dec, Valid: true}
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		d.CompletedAt = &t
	}

	return &d, nil
}
