package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBag_Values(t *testing.T) {
	src := map[string]any{"a": "1"}
	b := NewBag("s1", src)

	assert.Equal(t, "s1", b.ID())
	assert.False(t, b.Dirty())

	// the bag owns its copy
	src["a"] = "changed"
	v, ok := String(b, "a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	b.Remove("missing")
	assert.False(t, b.Dirty())

	b.Set("flag", true)
	assert.True(t, b.Dirty())
	assert.True(t, Bool(b, "flag"))
	assert.True(t, b.Has("flag"))

	all := b.All()
	all["a"] = "mutated"
	v, _ = String(b, "a")
	assert.Equal(t, "1", v)

	b.Remove("flag")
	assert.False(t, b.Has("flag"))
	assert.False(t, Bool(b, "flag"))
}

func TestString_TypeMismatch(t *testing.T) {
	b := NewBag("s", map[string]any{"n": 3})
	_, ok := String(b, "n")
	assert.False(t, ok)
}

func TestNewID_Unique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	values, err := s.Load(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, values)

	require.NoError(t, s.Save(ctx, "s1", map[string]any{
		"crashreport.filename":          "/bt/x.btl",
		"crashreport.exception_present": true,
	}))

	values, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "/bt/x.btl", values["crashreport.filename"])
	assert.Equal(t, true, values["crashreport.exception_present"])

	require.NoError(t, s.Save(ctx, "s1", map[string]any{"only": "this"}))
	values, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"only": "this"}, values)

	require.NoError(t, s.Delete(ctx, "s1"))
	values, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestSQLiteStore_Contract(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	storeContract(t, s)
}

func TestSQLiteStore_Expiry(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	require.NoError(t, s.Save(ctx, "s1", map[string]any{"k": "v"}))

	now = now.Add(2 * time.Minute)
	values, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, values)

	n, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisStore_Contract(t *testing.T) {
	addr := os.Getenv("CRASHREPORT_TEST_REDIS")
	if addr == "" {
		t.Skip("CRASHREPORT_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	storeContract(t, NewRedisStore(client, "crashreport-test:session:", time.Minute))
}
