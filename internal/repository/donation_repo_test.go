package repository

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "donations.db"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func pendingDonation(reference string) *domain.Donation {
	return &domain.Donation{
		ID:         uuid.NewString(),
		DonorEmail: "donor@example.com",
		DonorName:  "Ada",
		Amount:     decimal.RequireFromString("50.00"),
		Currency:   domain.CurrencyUSD,
		Frequency:  domain.FrequencyOneTime,
		Gateway:    domain.GatewayPaystack,
		Reference:  reference,
		Status:     domain.DonationPending,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestDonationRoundtrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewDonationRepo(db)

	d := pendingDonation("ref-1")
	d.PlanCode = "PLN_1"
	if err := repo.Insert(d); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := repo.GetByReference("ref-1")
	if err != nil {
		t.Fatalf("get by reference: %v", err)
	}
	if got == nil {
		t.Fatal("expected a donation")
	}
	if got.ID != d.ID || got.Status != domain.DonationPending {
		t.Errorf("unexpected donation %+v", got)
	}
	if !got.Amount.Equal(d.Amount) {
		t.Errorf("expected amount %s, got %s", d.Amount, got.Amount)
	}
	if got.ConvertedAmount.Valid {
		t.Error("expected a null converted amount before completion")
	}
	if got.CompletedAt != nil {
		t.Error("expected nil completed_at before completion")
	}

	missing, err := repo.GetByReference("ghost")
	if err != nil {
		t.Fatalf("get by reference: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for an unknown reference, got %+v", missing)
	}
}

func TestDonationReferenceIsUnique(t *testing.T) {
	db := newTestDB(t)
	repo := NewDonationRepo(db)

	if err := repo.Insert(pendingDonation("ref-1")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Insert(pendingDonation("ref-1")); err == nil {
		t.Fatal("expected a unique constraint violation")
	}
}

func TestMarkCompletedIsConditional(t *testing.T) {
	db := newTestDB(t)
	repo := NewDonationRepo(db)

	d := pendingDonation("ref-1")
	if err := repo.Insert(d); err != nil {
		t.Fatalf("insert: %v", err)
	}

	converted := decimal.RequireFromString("50.00")
	rate := decimal.NewFromInt(1)
	now := time.Now().UTC()

	markCompleted := func() (int64, error) {
		var n int64
		err := RunInTx(db, func(tx *sql.Tx) error {
			var err error
			n, err = repo.MarkCompleted(tx, d.ID, now, converted, rate, "I-1")
			return err
		})
		return n, err
	}

	n, err := markCompleted()
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one row changed, got %d", n)
	}

	got, _ := repo.GetByReference("ref-1")
	if got.Status != domain.DonationCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if got.AgreementID != "I-1" {
		t.Errorf("expected agreement I-1, got %q", got.AgreementID)
	}
	if !got.ConvertedAmount.Valid || !got.ConvertedAmount.Decimal.Equal(converted) {
		t.Errorf("unexpected converted amount %+v", got.ConvertedAmount)
	}

	// A second transition on the same row is a no-op.
	n, err = markCompleted()
	if err != nil {
		t.Fatalf("second mark completed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected zero rows changed on a completed donation, got %d", n)
	}
}

func TestMarkFailedOnlyMovesPending(t *testing.T) {
	db := newTestDB(t)
	repo := NewDonationRepo(db)

	d := pendingDonation("ref-1")
	if err := repo.Insert(d); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := repo.MarkFailed("ref-1", "card declined")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one row changed, got %d", n)
	}

	got, _ := repo.GetByReference("ref-1")
	if got.Status != domain.DonationFailed || got.FailureReason != "card declined" {
		t.Errorf("unexpected donation %+v", got)
	}

	// FAILED is terminal.
	n, err = repo.MarkCancelled("ref-1")
	if err != nil {
		t.Fatalf("mark cancelled: %v", err)
	}
	if n != 0 {
		t.Errorf("cancel moved a failed donation, n=%d", n)
	}
}

func TestGetFirstByPlanCode(t *testing.T) {
	db := newTestDB(t)
	repo := NewDonationRepo(db)

	parent := pendingDonation("ref-parent")
	parent.PlanCode = "PLN_1"
	parent.Frequency = domain.FrequencyRecurring
	parent.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := repo.Insert(parent); err != nil {
		t.Fatalf("insert parent: %v", err)
	}

	renewal := pendingDonation("ref-renewal")
	renewal.PlanCode = "PLN_1"
	renewal.Frequency = domain.FrequencyRecurring
	renewal.ParentDonationID = parent.ID
	if err := repo.Insert(renewal); err != nil {
		t.Fatalf("insert renewal: %v", err)
	}

	got, err := repo.GetFirstByPlanCode("PLN_1")
	if err != nil {
		t.Fatalf("get by plan: %v", err)
	}
	if got == nil || got.ID != parent.ID {
		t.Errorf("expected the series original, got %+v", got)
	}
}

func TestDonationList(t *testing.T) {
	db := newTestDB(t)
	repo := NewDonationRepo(db)

	refs := []string{"ref-1", "ref-2", "ref-3"}
	for i, ref := range refs {
		d := pendingDonation(ref)
		d.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		if i == 0 {
			d.DonorName = "Grace Hopper"
		}
		if err := repo.Insert(d); err != nil {
			t.Fatalf("insert %s: %v", ref, err)
		}
	}
	if _, err := repo.MarkFailed("ref-3", "declined"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	t.Run("filters by status", func(t *testing.T) {
		donations, total, err := repo.List(DonationFilter{Status: "failed", Page: 1, Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 1 || len(donations) != 1 || donations[0].Reference != "ref-3" {
			t.Errorf("unexpected result total=%d donations=%+v", total, donations)
		}
	})

	t.Run("searches by donor name", func(t *testing.T) {
		_, total, err := repo.List(DonationFilter{Search: "Grace", Page: 1, Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 1 {
			t.Errorf("expected one match, got %d", total)
		}
	})

	t.Run("paginates newest first", func(t *testing.T) {
		donations, total, err := repo.List(DonationFilter{Page: 1, Limit: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 3 || len(donations) != 2 {
			t.Fatalf("expected total 3 with page of 2, got %d/%d", total, len(donations))
		}
		if donations[0].Reference != "ref-3" {
			t.Errorf("expected newest first, got %s", donations[0].Reference)
		}
	})
}

func TestDonationMetrics(t *testing.T) {
	db := newTestDB(t)
	repo := NewDonationRepo(db)

	now := time.Now().UTC()
	completed := pendingDonation("ref-1")
	completed.Status = domain.DonationCompleted
	completed.ConvertedAmount = decimal.NullDecimal{Decimal: decimal.RequireFromString("50.00"), Valid: true}
	completed.CompletedAt = &now
	if err := repo.Insert(completed); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Insert(pendingDonation("ref-2")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dayAgo := now.Add(-24 * time.Hour)
	m, err := repo.GetMetrics(dayAgo, dayAgo, dayAgo)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.TotalDonations != 2 || m.CompletedCount != 1 {
		t.Errorf("unexpected counts %+v", m)
	}
	if m.TotalAmount != 50 || m.TodayAmount != 50 {
		t.Errorf("unexpected sums %+v", m)
	}
}
