package store

import (
	"context"
	"testing"

	"github.com/dukerupert/textblast/internal/model"
)

func TestFeedbackCreateAndUpdate(t *testing.T) {
	db := openTestDB(t)
	fs := NewFeedbackStore(db)
	ctx := context.Background()
	owner := createTestAccount(t, db, "owner@example.com")

	f, err := fs.Create(ctx, owner, "Export", "Let me export contacts", "feature", "")
	if err != nil {
		t.Fatalf("create feedback: %v", err)
	}
	if f.Status != model.FeedbackPending {
		t.Errorf("status = %q, want pending", f.Status)
	}
	if f.Priority != "medium" {
		t.Errorf("priority = %q, want medium", f.Priority)
	}

	status := model.FeedbackInReview
	updated, err := fs.Update(ctx, f.ID, FeedbackUpdate{Status: &status})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != model.FeedbackInReview || updated.Title != "Export" {
		t.Errorf("updated = %+v", updated)
	}

	bad := "bogus"
	if _, err := fs.Update(ctx, f.ID, FeedbackUpdate{Status: &bad}); err == nil {
		t.Error("expected check constraint error for unknown status")
	}
}

func TestFeedbackListScopes(t *testing.T) {
	db := openTestDB(t)
	fs := NewFeedbackStore(db)
	ctx := context.Background()
	alice := createTestAccount(t, db, "alice@example.com")
	bob := createTestAccount(t, db, "bob@example.com")

	fs.Create(ctx, alice, "A", "a", "bug", "high")
	fs.Create(ctx, bob, "B", "b", "other", "low")

	mine, err := fs.List(ctx, alice, ListParams{})
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if mine.Total != 1 || mine.Items[0].Title != "A" {
		t.Errorf("mine = %+v", mine)
	}

	all, _ := fs.List(ctx, 0, ListParams{})
	if all.Total != 2 {
		t.Errorf("all total = %d, want 2", all.Total)
	}
}
