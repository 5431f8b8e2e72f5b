package store

import (
	"context"
	"testing"
	"time"
)

func TestOTPUpsertKeepsLatest(t *testing.T) {
	ots := NewOTPStore(openTestDB(t))
	ctx := context.Background()
	exp := time.Now().Add(5 * time.Minute)

	first, err := ots.Upsert(ctx, "a@example.com", "+15550001111", "111111", exp)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := ots.Upsert(ctx, "a@example.com", "+15550001111", "222222", exp)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("id = %d, want %d (row replaced in place)", second.ID, first.ID)
	}

	got, err := ots.Get(ctx, "a@example.com", "+15550001111")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Code != "222222" {
		t.Errorf("code = %q, want %q", got.Code, "222222")
	}
	if got.ExpiresAt.Sub(exp.UTC()).Abs() > time.Second {
		t.Errorf("expires_at = %v, want about %v", got.ExpiresAt, exp)
	}
}

func TestOTPSeparatePairs(t *testing.T) {
	ots := NewOTPStore(openTestDB(t))
	ctx := context.Background()
	exp := time.Now().Add(5 * time.Minute)

	ots.Upsert(ctx, "a@example.com", "", "111111", exp)
	ots.Upsert(ctx, "a@example.com", "+15550001111", "222222", exp)

	emailOnly, _ := ots.Get(ctx, "a@example.com", "")
	if emailOnly == nil || emailOnly.Code != "111111" {
		t.Errorf("email-only code = %+v, want 111111", emailOnly)
	}
}

func TestOTPDeleteAndExpiredSweep(t *testing.T) {
	ots := NewOTPStore(openTestDB(t))
	ctx := context.Background()

	old, _ := ots.Upsert(ctx, "old@example.com", "", "111111", time.Now().Add(-48*time.Hour))
	live, _ := ots.Upsert(ctx, "live@example.com", "", "222222", time.Now().Add(5*time.Minute))

	n, err := ots.DeleteExpiredBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if got, _ := ots.Get(ctx, old.Email, ""); got != nil {
		t.Error("old code should be swept")
	}

	if err := ots.Delete(ctx, live.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := ots.Get(ctx, live.Email, ""); got != nil {
		t.Error("live code should be deleted")
	}
}
