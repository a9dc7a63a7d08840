package store

import (
	"testing"

	"github.com/claritylabs/claritycounsel/internal/database"
)

func setupUserTestDB(t *testing.T) *UserStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return NewUserStore(db)
}

func TestUserCreate(t *testing.T) {
	s := setupUserTestDB(t)

	u, err := s.Create("alice@example.com", "Alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", u.Email, "alice@example.com")
	}
	if u.PasswordHash != "hash" {
		t.Errorf("password_hash = %q, want %q", u.PasswordHash, "hash")
	}
}

func TestUserGetByEmail(t *testing.T) {
	s := setupUserTestDB(t)

	created, _ := s.Create("alice@example.com", "Alice", "hash")
	u, err := s.GetByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u == nil {
		t.Fatal("expected user, got nil")
	}
	if u.ID != created.ID {
		t.Errorf("id = %d, want %d", u.ID, created.ID)
	}
}

func TestUserGetByEmailNotFound(t *testing.T) {
	s := setupUserTestDB(t)

	u, err := s.GetByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u != nil {
		t.Error("expected nil for nonexistent email")
	}
}

func TestUserDuplicateEmail(t *testing.T) {
	s := setupUserTestDB(t)

	if _, err := s.Create("alice@example.com", "", "hash"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.Create("alice@example.com", "", "hash"); err == nil {
		t.Error("expected error for duplicate email")
	}
}

func TestUserDelete(t *testing.T) {
	s := setupUserTestDB(t)

	created, _ := s.Create("alice@example.com", "", "hash")
	if err := s.Delete(created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	u, err := s.GetByID(created.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if u != nil {
		t.Error("expected nil after delete")
	}
}
