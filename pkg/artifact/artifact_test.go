package artifact

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/crashreport/pkg/errors"
	"github.com/armorclaw/crashreport/pkg/logger"
)

var namePattern = regexp.MustCompile(`^/var/bt/[0-9a-f]{40}\.btl$`)

func TestGenerateName_Format(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name, err := GenerateName("/var/bt")
		require.NoError(t, err)
		assert.Regexp(t, namePattern, name)
		assert.True(t, IsName(name))
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}

	name, err := GenerateName("/var/bt/")
	require.NoError(t, err)
	assert.Regexp(t, namePattern, name)
}

func TestIsName_RejectsForeignNames(t *testing.T) {
	assert.False(t, IsName("/var/bt/short.btl"))
	assert.False(t, IsName("/var/bt/"+strings.Repeat("a", 40)+".txt"))
	assert.False(t, IsName("/var/bt/"+strings.Repeat("A", 40)+".btl"))
	assert.True(t, IsName(strings.Repeat("0", 40)+".btl"))
}

func TestArtifact_RegenerateKeepsContent(t *testing.T) {
	a, err := New("/var/bt", "trace")
	require.NoError(t, err)
	first := a.Name

	require.NoError(t, a.Regenerate())
	assert.NotEqual(t, first, a.Name)
	assert.Equal(t, "trace", a.Content)
	assert.Equal(t, "/var/bt", a.Folder())
}

// storeContract runs the behaviour every backend shares.
func storeContract(t *testing.T, s Store, folder string) {
	ctx := context.Background()
	key, err := GenerateName(folder)
	require.NoError(t, err)

	_, found, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Write(ctx, key, "Exception message: DB down"))

	err = s.Write(ctx, key, "other")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)

	content, found, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Exception message: DB down", content)

	require.NoError(t, s.Delete(ctx, key))
	_, found, err = s.Read(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	// deleting twice is fine
	require.NoError(t, s.Delete(ctx, key))
}

func TestFileStore_Contract(t *testing.T) {
	dir := t.TempDir()
	storeContract(t, NewFileStore(dir), filepath.Join(dir, "nested"))
}

func TestFileStore_Write_UploadFailed(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	// the parent "folder" is a regular file, so creating the artifact fails
	err := NewFileStore(dir).Write(context.Background(), filepath.Join(blocker, "a.btl"), "trace")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUploadFailed)
}

func TestFileStore_Sweep(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	ctx := context.Background()

	old, _ := GenerateName(dir)
	fresh, _ := GenerateName(dir)
	require.NoError(t, s.Write(ctx, old, "old"))
	require.NoError(t, s.Write(ctx, fresh, "fresh"))
	other := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0600))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	n, err := s.Sweep(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContract(t, newTestSQLiteStore(t), "/var/bt")
}

func TestSQLiteStore_Sweep(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	require.NoError(t, s.Write(ctx, "/bt/old.btl", "old"))
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, s.Write(ctx, "/bt/new.btl", "new"))

	n, err := s.Sweep(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, _ := s.Read(ctx, "/bt/old.btl")
	assert.False(t, found)
	_, found, _ = s.Read(ctx, "/bt/new.btl")
	assert.True(t, found)
}

func TestRedisStore_Contract(t *testing.T) {
	addr := os.Getenv("CRASHREPORT_TEST_REDIS")
	if addr == "" {
		t.Skip("CRASHREPORT_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	storeContract(t, NewRedisStore(client, "crashreport-test:", time.Minute), "/var/bt")
}

type countingSweeper struct {
	cutoff time.Time
	calls  int
}

func (c *countingSweeper) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	c.cutoff = olderThan
	c.calls++
	return 2, nil
}

func TestJanitor_RunOnce(t *testing.T) {
	sw := &countingSweeper{}
	j := NewJanitor(sw, 24*time.Hour, "@every 1h", logger.Nop())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	n, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, now.Add(-24*time.Hour), sw.cutoff)
}

func TestJanitor_Start_BadSchedule(t *testing.T) {
	j := NewJanitor(&countingSweeper{}, time.Hour, "not a schedule", logger.Nop())
	require.Error(t, j.Start(context.Background()))
}

func TestJanitor_StartStop(t *testing.T) {
	j := NewJanitor(&countingSweeper{}, time.Hour, "@every 1h", logger.Nop())
	require.NoError(t, j.Start(context.Background()))
	require.Error(t, j.Start(context.Background()))
	j.Stop()
	j.Stop()
}
