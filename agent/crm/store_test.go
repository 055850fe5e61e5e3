package crm

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	contractx "github.com/tanpawarit/apex-sales-agent/agent/contract"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	store := NewStore(bun.NewDB(sqldb, sqlitedialect.New()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateDerivesStatusAndDefaults(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	lead, err := store.Create(ctx, contractx.Lead{
		Name:      "Dana",
		Email:     "dana@example.com",
		LeadScore: 8.5,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if lead.ID == 0 {
		t.Fatal("expected autoincrement id")
	}
	if lead.Status != contractx.StatusHot {
		t.Fatalf("Status = %q, want %q", lead.Status, contractx.StatusHot)
	}
	if lead.Source != "AI Assistant" {
		t.Fatalf("Source = %q, want default", lead.Source)
	}
	if lead.CreatedAt.IsZero() || lead.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps")
	}
}

func TestCreateRequiresNameAndEmail(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.Create(context.Background(), contractx.Lead{Name: "  ", Email: "x@example.com"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGetByEmailReturnsMostRecent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	clock := base
	store.now = func() time.Time { return clock }

	if _, err := store.Create(ctx, contractx.Lead{Name: "Dana", Email: "dana@example.com", LeadScore: 4}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	clock = base.Add(time.Hour)
	second, err := store.Create(ctx, contractx.Lead{Name: "Dana", Email: "dana@example.com", LeadScore: 9})
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}

	got, err := store.GetByEmail(ctx, "dana@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("GetByEmail returned id=%d, want most recent id=%d", got.ID, second.ID)
	}

	if _, err := store.GetByEmail(ctx, "missing@example.com"); !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRecomputesStatusFromScore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	lead, err := store.Create(ctx, contractx.Lead{Name: "Sam", Email: "sam@example.com", LeadScore: 3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if lead.Status != contractx.StatusCold {
		t.Fatalf("initial Status = %q", lead.Status)
	}

	score := 9.0
	updated, err := store.Update(ctx, lead.ID, contractx.LeadPatch{LeadScore: &score})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != contractx.StatusHot {
		t.Fatalf("Status = %q, want recomputed %q", updated.Status, contractx.StatusHot)
	}

	// An explicit status wins over recomputation.
	score = 1.0
	status := contractx.StatusQualified
	updated, err = store.Update(ctx, lead.ID, contractx.LeadPatch{LeadScore: &score, Status: &status})
	if err != nil {
		t.Fatalf("Update with status: %v", err)
	}
	if updated.Status != contractx.StatusQualified {
		t.Fatalf("Status = %q, want explicit %q", updated.Status, contractx.StatusQualified)
	}

	if _, err := store.Update(ctx, 9999, contractx.LeadPatch{LeadScore: &score}); !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing lead, got %v", err)
	}
}

func TestListFiltersByStatusAndOrdersByScore(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for _, l := range []contractx.Lead{
		{Name: "A", Email: "a@example.com", LeadScore: 2},
		{Name: "B", Email: "b@example.com", LeadScore: 9},
		{Name: "C", Email: "c@example.com", LeadScore: 8.2},
	} {
		if _, err := store.Create(ctx, l); err != nil {
			t.Fatalf("Create %s: %v", l.Name, err)
		}
	}

	hot, err := store.List(ctx, contractx.StatusHot, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(hot) != 2 {
		t.Fatalf("len(hot) = %d, want 2", len(hot))
	}
	if hot[0].LeadScore < hot[1].LeadScore {
		t.Fatal("expected descending score order")
	}

	all, err := store.List(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	lead, err := store.Create(ctx, contractx.Lead{Name: "Z", Email: "z@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, lead.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetByID(ctx, lead.ID); !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, lead.ID); !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	clock := base.AddDate(0, 0, -30)
	store.now = func() time.Time { return clock }

	if _, err := store.Create(ctx, contractx.Lead{Name: "Old", Email: "old@example.com", LeadScore: 2}); err != nil {
		t.Fatalf("Create old: %v", err)
	}
	clock = base
	if _, err := store.Create(ctx, contractx.Lead{Name: "New", Email: "new@example.com", LeadScore: 8}); err != nil {
		t.Fatalf("Create new: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("Total = %d, want 2", stats.Total)
	}
	if stats.ByStatus[contractx.StatusHot] != 1 || stats.ByStatus[contractx.StatusCold] != 1 {
		t.Fatalf("ByStatus = %v", stats.ByStatus)
	}
	if stats.AverageScore != 5 {
		t.Fatalf("AverageScore = %v, want 5", stats.AverageScore)
	}
	if stats.Recent7Days != 1 {
		t.Fatalf("Recent7Days = %d, want 1", stats.Recent7Days)
	}
}
