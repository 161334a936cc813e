package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dukerupert/famcal/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	familyID int64
	userID   int64
	otherID  int64
	childID  int64
}

// seedFamily creates a family with two member users and one child.
func seedFamily(t *testing.T, db *sql.DB) fixture {
	t.Helper()
	ctx := context.Background()

	fam, err := NewFamilyStore(db).Create(ctx, "Smith")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	us := NewUserStore(db)
	alice, err := us.Create(ctx, "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	bob, err := us.Create(ctx, "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	fs := NewFamilyStore(db)
	if _, err := fs.AddMember(ctx, fam.ID, alice.ID, "admin"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := fs.AddMember(ctx, fam.ID, bob.ID, "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	kid, err := NewChildStore(db).Create(ctx, fam.ID, "Sam")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	return fixture{familyID: fam.ID, userID: alice.ID, otherID: bob.ID, childID: kid.ID}
}
