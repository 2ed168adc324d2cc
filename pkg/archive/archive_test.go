package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ADIITJ/Chronicle-Ops/pkg/contracts"
	"github.com/ADIITJ/Chronicle-Ops/pkg/engine"
	"github.com/ADIITJ/Chronicle-Ops/pkg/ledger"
)

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	return store, dir
}

func TestFileStore_PutGetRoundtrip(t *testing.T) {
	store, _ := newFileStore(t)
	ctx := context.Background()

	data := []byte(`{"run_id":"run-1"}`)
	ref, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "sha256:"))

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_PutIdempotent(t *testing.T) {
	store, dir := newFileStore(t)
	ctx := context.Background()

	data := []byte("same bytes")
	ref1, err := store.Put(ctx, data)
	require.NoError(t, err)
	ref2, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	blobs, err := filepath.Glob(filepath.Join(dir, "*.blob"))
	require.NoError(t, err)
	assert.Len(t, blobs, 1)
}

func TestFileStore_InvalidRef(t *testing.T) {
	store, _ := newFileStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "md5:abc")
	assert.Error(t, err)
	_, err = store.Get(ctx, "sha256:not-hex")
	assert.Error(t, err)
	_, err = store.Exists(ctx, "bare-ref")
	assert.Error(t, err)
	assert.Error(t, store.Delete(ctx, "bare-ref"))
}

func TestFileStore_GetMissing(t *testing.T) {
	store, _ := newFileStore(t)

	_, err := store.Get(context.Background(), "sha256:"+strings.Repeat("ab", 32))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_Delete(t *testing.T) {
	store, _ := newFileStore(t)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("to delete"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, ref))
	ok, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, ref))
}

func archiveBlueprint() contracts.Blueprint {
	return contracts.Blueprint{
		Name: "acme",
		Initial: contracts.InitialConditions{
			Cash:        1_000_000,
			MonthlyBurn: 100_000,
			Headcount:   10,
			Margins:     contracts.Margins{Gross: 0.7},
			Pricing:     map[string]float64{"default": 100},
			Demand:      map[string]float64{"default": 500},
		},
	}
}

func archiveTimeline() contracts.Timeline {
	return contracts.Timeline{
		StartDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

func TestArchive_BundleRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t)
	arc := NewArchive(store)

	led, err := ledger.New()
	require.NoError(t, err)
	simTime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = led.Append(ctx, "run-1", simTime, ledger.EntryRunStarted, map[string]interface{}{"seed": 42}, "system")
	require.NoError(t, err)
	_, err = led.Append(ctx, "run-1", simTime.AddDate(0, 0, 7), ledger.EntryTickCompleted, map[string]interface{}{"tick": 1}, "system")
	require.NoError(t, err)

	bundle, err := led.ExportBundle("run-1")
	require.NoError(t, err)

	ref, err := arc.SaveBundle(ctx, bundle)
	require.NoError(t, err)

	loaded, err := arc.LoadBundle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, bundle.BundleID, loaded.BundleID)
	assert.Equal(t, bundle.MerkleRoot, loaded.MerkleRoot)
	assert.Len(t, loaded.Entries, 2)
	assert.True(t, ledger.VerifyBundle(loaded))
}

func TestArchive_TamperDetected(t *testing.T) {
	ctx := context.Background()
	store, dir := newFileStore(t)
	arc := NewArchive(store)

	led, err := ledger.New()
	require.NoError(t, err)
	_, err = led.Append(ctx, "run-1", time.Now().UTC(), ledger.EntryRunStarted, nil, "system")
	require.NoError(t, err)
	bundle, err := led.ExportBundle("run-1")
	require.NoError(t, err)

	ref, err := arc.SaveBundle(ctx, bundle)
	require.NoError(t, err)

	// Flip bytes behind the store's back.
	blobs, err := filepath.Glob(filepath.Join(dir, "*.blob"))
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	raw, err := os.ReadFile(blobs[0])
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(blobs[0], raw, 0o644))

	_, err = arc.LoadBundle(ctx, ref)
	assert.ErrorIs(t, err, ErrTampered)
}

func TestArchive_CheckpointRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newFileStore(t)
	arc := NewArchive(store)

	eng, err := engine.New(archiveBlueprint(), archiveTimeline(), engine.WithSeed(7))
	require.NoError(t, err)
	_, err = eng.Tick(ctx)
	require.NoError(t, err)

	cp, err := eng.CreateCheckpoint(ctx, "week-1")
	require.NoError(t, err)

	ref, err := arc.SaveCheckpoint(ctx, cp)
	require.NoError(t, err)

	loaded, err := arc.LoadCheckpoint(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, cp.RunID, loaded.RunID)
	assert.Equal(t, cp.Tick, loaded.Tick)
	assert.Equal(t, cp.Checksum, loaded.Checksum)

	// The archived checkpoint restores onto a fresh engine.
	fresh, err := engine.New(archiveBlueprint(), archiveTimeline(), engine.WithSeed(7))
	require.NoError(t, err)
	require.NoError(t, fresh.RestoreFrom(ctx, loaded))

	wantHash, err := eng.StateHash()
	require.NoError(t, err)
	gotHash, err := fresh.StateHash()
	require.NoError(t, err)
	assert.Equal(t, wantHash, gotHash)
}

func TestNewStoreFromEnv(t *testing.T) {
	t.Setenv("CHRONICLE_ARCHIVE", "")
	t.Setenv("DATA_DIR", t.TempDir())

	store, err := NewStoreFromEnv(context.Background())
	require.NoError(t, err)
	_, ok := store.(*FileStore)
	assert.True(t, ok)
}

func TestNewStoreFromEnv_UnsupportedKind(t *testing.T) {
	t.Setenv("CHRONICLE_ARCHIVE", "tape")

	_, err := NewStoreFromEnv(context.Background())
	assert.Error(t, err)
}

func TestNewStoreFromEnv_S3NeedsBucket(t *testing.T) {
	t.Setenv("CHRONICLE_ARCHIVE", "s3")
	t.Setenv("CHRONICLE_ARCHIVE_S3_BUCKET", "")

	_, err := NewStoreFromEnv(context.Background())
	assert.Error(t, err)
}
