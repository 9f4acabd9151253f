package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/platformai/sci-auth/internal/db"
	"github.com/platformai/sci-auth/types"
)

func newTestRepository(t *testing.T) *UserRepository {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	if err := db.Migrate(path); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return NewUserRepository(conn)
}

func testUser(identifier string) types.User {
	return types.User{
		Identifier:     identifier,
		DisplayName:    "Alice",
		Role:           "user",
		Credit:         12.5,
		TokenCount:     300,
		CredentialKind: types.CredentialSSO,
		Credential:     "provider-token",
		APIKey:         "key-123",
	}
}

func TestUpsertThenGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Upsert(ctx, testUser("ext_42"))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
	if created.UpdatedAt.Before(created.CreatedAt) {
		t.Fatal("updated_at before created_at")
	}

	got, err := repo.GetByIdentifier(ctx, "ext_42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DisplayName != "Alice" || got.Role != "user" || got.Credit != 12.5 ||
		got.TokenCount != 300 || got.CredentialKind != types.CredentialSSO ||
		got.Credential != "provider-token" || got.APIKey != "key-123" {
		t.Fatalf("stored fields do not match upserted values: %+v", got)
	}
}

func TestUpsertRefreshesExistingRecord(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, testUser("ext_42"))
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	update := testUser("ext_42")
	update.DisplayName = "Alice Updated"
	update.Credit = 99
	update.TokenCount = 500
	update.Credential = "newer-token"
	update.Role = "admin" // must be ignored on update

	second, err := repo.Upsert(ctx, update)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.DisplayName != "Alice Updated" || second.Credit != 99 ||
		second.TokenCount != 500 || second.Credential != "newer-token" {
		t.Fatalf("fields not refreshed: %+v", second)
	}
	if second.Role != "user" {
		t.Fatalf("role should be preserved on update, got %q", second.Role)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed on update: %v != %v", second.CreatedAt, first.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("updated_at did not advance: %v <= %v", second.UpdatedAt, first.UpdatedAt)
	}
}

func TestCreateDuplicate(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	user := testUser("local_alice")
	user.CredentialKind = types.CredentialPassword
	user.Credential = "first-hash"

	if _, err := repo.Create(ctx, user); err != nil {
		t.Fatalf("first create: %v", err)
	}

	user.Credential = "second-hash"
	if _, err := repo.Create(ctx, user); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := repo.GetByIdentifier(ctx, "local_alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credential != "first-hash" {
		t.Fatalf("duplicate create must not overwrite credential, got %q", got.Credential)
	}
}

func TestGetMissing(t *testing.T) {
	repo := newTestRepository(t)

	if _, err := repo.GetByIdentifier(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentUpsertsProduceOneRow(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Upsert(ctx, testUser("ext_42")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent upsert: %v", err)
	}

	var count int
	if err := repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE user_id = ?", "ext_42").Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}
