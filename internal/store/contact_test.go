package store

import (
	"context"
	"reflect"
	"testing"

	"github.com/dukerupert/textblast/internal/apperr"
)

func TestContactRoundTrip(t *testing.T) {
	db := openTestDB(t)
	cs := NewContactStore(db)
	ctx := context.Background()
	owner := createTestAccount(t, db, "owner@example.com")

	in := ContactInput{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		PhoneNumber: "+15550001111",
		Email:       "ada@example.com",
		Tags:        []string{"vip", "beta"},
	}
	created, err := cs.Create(ctx, owner, in)
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}

	got, err := cs.GetByID(ctx, owner, created.ID)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if got == nil {
		t.Fatal("expected contact, got nil")
	}
	if got.FirstName != in.FirstName || got.LastName != in.LastName ||
		got.PhoneNumber != in.PhoneNumber || got.Email != in.Email {
		t.Errorf("contact = %+v, want fields of %+v", got, in)
	}
	if !reflect.DeepEqual(got.Tags, in.Tags) {
		t.Errorf("tags = %v, want %v", got.Tags, in.Tags)
	}
	if !reflect.DeepEqual(got, created) {
		t.Errorf("fetched contact differs from created: %+v vs %+v", got, created)
	}
}

func TestContactScopedToOwner(t *testing.T) {
	db := openTestDB(t)
	cs := NewContactStore(db)
	ctx := context.Background()
	alice := createTestAccount(t, db, "alice@example.com")
	bob := createTestAccount(t, db, "bob@example.com")

	c, err := cs.Create(ctx, alice, ContactInput{PhoneNumber: "+15550001111", Email: "x@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := cs.GetByID(ctx, bob, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("another account must not see the contact")
	}

	// The same phone and email are allowed under a different owner.
	if _, err := cs.Create(ctx, bob, ContactInput{PhoneNumber: "+15550001111", Email: "x@example.com"}); err != nil {
		t.Errorf("create under second owner: %v", err)
	}
}

func TestContactDuplicateWithinAccount(t *testing.T) {
	db := openTestDB(t)
	cs := NewContactStore(db)
	ctx := context.Background()
	owner := createTestAccount(t, db, "owner@example.com")

	cs.Create(ctx, owner, ContactInput{PhoneNumber: "+15550001111", Email: "a@example.com"})

	_, err := cs.Create(ctx, owner, ContactInput{PhoneNumber: "+15550002222", Email: "a@example.com"})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if e, _ := apperr.As(err); e.Message != "Email already exists" {
		t.Errorf("message = %q, want %q", e.Message, "Email already exists")
	}
}

func TestContactUpdateEmailConflict(t *testing.T) {
	db := openTestDB(t)
	cs := NewContactStore(db)
	ctx := context.Background()
	owner := createTestAccount(t, db, "owner@example.com")

	cs.Create(ctx, owner, ContactInput{PhoneNumber: "+15550001111", Email: "a@example.com"})
	b, _ := cs.Create(ctx, owner, ContactInput{PhoneNumber: "+15550002222", Email: "b@example.com"})

	_, err := cs.Update(ctx, owner, b.ID, ContactInput{PhoneNumber: b.PhoneNumber, Email: "a@example.com"})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestContactUpdateMissing(t *testing.T) {
	db := openTestDB(t)
	cs := NewContactStore(db)
	owner := createTestAccount(t, db, "owner@example.com")

	c, err := cs.Update(context.Background(), owner, 999, ContactInput{PhoneNumber: "+1", Email: "a@b.c"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if c != nil {
		t.Error("expected nil for missing contact")
	}
}

func TestContactCreateBatchAllOrNothing(t *testing.T) {
	db := openTestDB(t)
	cs := NewContactStore(db)
	ctx := context.Background()
	owner := createTestAccount(t, db, "owner@example.com")

	cs.Create(ctx, owner, ContactInput{PhoneNumber: "+15550003333", Email: "taken@example.com"})

	_, err := cs.CreateBatch(ctx, owner, []ContactInput{
		{PhoneNumber: "+15550001111", Email: "one@example.com"},
		{PhoneNumber: "+15550003333", Email: "two@example.com"},
	})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("err = %v, want conflict", err)
	}

	page, _ := cs.List(ctx, owner, ListParams{All: true})
	if page.Total != 1 {
		t.Errorf("total = %d, want 1 (batch must roll back)", page.Total)
	}

	n, err := cs.CreateBatch(ctx, owner, []ContactInput{
		{PhoneNumber: "+15550001111", Email: "one@example.com"},
		{PhoneNumber: "+15550002222", Email: "two@example.com"},
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}
}

func TestContactListSearchAndAll(t *testing.T) {
	db := openTestDB(t)
	cs := NewContactStore(db)
	ctx := context.Background()
	owner := createTestAccount(t, db, "owner@example.com")

	for i, name := range []string{"Ann", "Anna", "Annabel", "Bob"} {
		suffix := string(rune('0' + i))
		cs.Create(ctx, owner, ContactInput{
			FirstName:   name,
			PhoneNumber: "+1555000000" + suffix,
			Email:       "c" + suffix + "@x.io",
		})
	}

	page, err := cs.List(ctx, owner, ListParams{Search: "ann", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("total = %d, want 3", page.Total)
	}
	if len(page.Items) != 2 {
		t.Errorf("items = %d, want 2", len(page.Items))
	}

	all, err := cs.List(ctx, owner, ListParams{All: true, Limit: 1})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all.Items) != 4 {
		t.Errorf("all items = %d, want 4", len(all.Items))
	}
}

func TestContactIDsByPhone(t *testing.T) {
	db := openTestDB(t)
	cs := NewContactStore(db)
	ctx := context.Background()
	owner := createTestAccount(t, db, "owner@example.com")

	c, _ := cs.Create(ctx, owner, ContactInput{PhoneNumber: "+15550001111", Email: "a@example.com"})

	ids, err := cs.IDsByPhone(ctx, owner, []string{"+15550001111", "+15559999999"})
	if err != nil {
		t.Fatalf("ids by phone: %v", err)
	}
	if len(ids) != 1 || ids["+15550001111"] != c.ID {
		t.Errorf("ids = %v, want only %d", ids, c.ID)
	}
}

func TestContactDelete(t *testing.T) {
	db := openTestDB(t)
	cs := NewContactStore(db)
	ctx := context.Background()
	owner := createTestAccount(t, db, "owner@example.com")

	c, _ := cs.Create(ctx, owner, ContactInput{PhoneNumber: "+15550001111", Email: "a@example.com"})
	ok, err := cs.Delete(ctx, owner, c.ID)
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if got, _ := cs.GetByID(ctx, owner, c.ID); got != nil {
		t.Error("expected contact to be gone")
	}
}
