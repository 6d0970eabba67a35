package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/needafrica/donations/internal/domain"
)

func seedCampaign(t *testing.T, repo *CampaignRepo, title string, status domain.CampaignStatus) *domain.Campaign {
	t.Helper()
	now := time.Now().UTC()
	c := &domain.Campaign{
		ID:                 uuid.NewString(),
		Title:              title,
		TargetAmount:       decimal.NewFromInt(1000),
		Currency:           domain.CurrencyNGN,
		Status:             status,
		ReceivingDonations: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	c.UpdateProgress()
	if err := repo.Insert(c); err != nil {
		t.Fatalf("insert campaign %s: %v", title, err)
	}
	return c
}

func TestCampaignRoundtrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewCampaignRepo(db)

	c := seedCampaign(t, repo, "Clean Water", domain.CampaignActive)

	got, err := repo.GetByID(c.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got == nil {
		t.Fatal("expected a campaign")
	}
	if got.Title != "Clean Water" || got.Status != domain.CampaignActive || !got.ReceivingDonations {
		t.Errorf("unexpected campaign %+v", got)
	}
	if !got.RemainingAmount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected 1000 remaining, got %s", got.RemainingAmount)
	}

	missing, err := repo.GetByID("ghost")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for an unknown id, got %+v", missing)
	}
}

func TestSaveProgressTx(t *testing.T) {
	db := newTestDB(t)
	repo := NewCampaignRepo(db)

	c := seedCampaign(t, repo, "Clean Water", domain.CampaignActive)

	err := RunInTx(db, func(tx *sql.Tx) error {
		current, err := repo.GetTx(tx, c.ID)
		if err != nil {
			return err
		}
		current.Credit(decimal.NewFromInt(1000))
		return repo.SaveProgressTx(tx, current)
	})
	if err != nil {
		t.Fatalf("save progress: %v", err)
	}

	got, _ := repo.GetByID(c.ID)
	if !got.AmountRaised.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected 1000 raised, got %s", got.AmountRaised)
	}
	if got.Status != domain.CampaignCompleted {
		t.Errorf("expected the auto-completion to persist, got %s", got.Status)
	}
	if !got.RemainingAmount.IsZero() {
		t.Errorf("expected zero remaining, got %s", got.RemainingAmount)
	}
}

func TestCampaignListAndStats(t *testing.T) {
	db := newTestDB(t)
	repo := NewCampaignRepo(db)

	seedCampaign(t, repo, "Clean Water", domain.CampaignActive)
	seedCampaign(t, repo, "School Supplies", domain.CampaignActive)
	seedCampaign(t, repo, "Old Drive", domain.CampaignCompleted)

	t.Run("filters by status", func(t *testing.T) {
		campaigns, total, err := repo.List(CampaignFilter{Status: "active", Page: 1, Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 2 || len(campaigns) != 2 {
			t.Errorf("expected two active campaigns, got %d/%d", total, len(campaigns))
		}
	})

	t.Run("searches by title", func(t *testing.T) {
		_, total, err := repo.List(CampaignFilter{Search: "School", Page: 1, Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 1 {
			t.Errorf("expected one match, got %d", total)
		}
	})

	t.Run("stats aggregate all campaigns", func(t *testing.T) {
		stats, err := repo.GetStats()
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Total != 3 || stats.Active != 2 || stats.Completed != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
		if stats.TotalTarget != 3000 {
			t.Errorf("expected 3000 total target, got %v", stats.TotalTarget)
		}
	})
}
