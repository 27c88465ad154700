package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to PostgreSQL from the PG* environment and skips
// the test when no server is reachable.
func setupTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	env := func(k, d string) string {
		if v := os.Getenv(k); v != "" {
			return v
		}
		return d
	}
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"), env("PGPORT", "5432"), env("PGUSER", "user"),
		env("PGPASSWORD", "password"), env("PGDATABASE", "testdb"))

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres")
}

func TestAggregateIDStable(t *testing.T) {
	assert.Equal(t, AggregateID("acc-1"), AggregateID("acc-1"))
	assert.NotEqual(t, AggregateID("acc-1"), AggregateID("acc-2"))
	assert.Equal(t, uuid.Version(5), AggregateID("acc-1").Version())
}

func TestRecordRequiresAccount(t *testing.T) {
	j := NewJournal(nil)
	err := j.Record(context.Background(), "", "AccountCreated", nil)
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestRecordAndLoad(t *testing.T) {
	db := setupTestDB(t)
	j := NewJournal(db)
	ctx := context.Background()
	require.NoError(t, j.EnsureSchema(ctx))

	account := "acc-" + uuid.NewString()
	require.NoError(t, j.Record(ctx, account, "AccountCreated", map[string]string{"username": "iast-jdoe"}))
	require.NoError(t, j.Record(ctx, account, "ActivationResent", map[string]string{"status": "pending"}))

	entries, err := j.Load(ctx, account)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 1, entries[0].Version)
	assert.Equal(t, "AccountCreated", entries[0].EventType)
	assert.JSONEq(t, `{"username":"iast-jdoe"}`, string(entries[0].Data))
	assert.Equal(t, 2, entries[1].Version)
	assert.Equal(t, account, entries[1].AccountID)
}

func BenchmarkRecord(b *testing.B) {
	db := setupTestDB(b)
	j := NewJournal(db)
	ctx := context.Background()
	if err := j.EnsureSchema(ctx); err != nil {
		b.Fatal(err)
	}
	account := "bench-" + uuid.NewString()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := j.Record(ctx, account, "AccountModified", map[string]int{"i": i}); err != nil {
			b.Fatal(err)
		}
	}
}
