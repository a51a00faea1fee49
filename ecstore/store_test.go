package ecstore_test

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/synccore/ecstore"
	"github.com/offlinefirst/synccore/model"
)

func openTestStore(t *testing.T) *ecstore.Store {
	t.Helper()
	store, err := ecstore.Open(context.Background(), nil, ecstore.Config{
		RootDir: t.TempDir(),
		Vault:   ecstore.NewMemoryVault(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestPutGetRoundTrip covers the round-trip part of S3: a 64KiB random
// payload survives seal then open byte-for-byte. Random bytes do not shrink
// under compression, so this payload is stored uncompressed.
func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	payload := make([]byte, 65536)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	id, err := store.Put(ctx, "blob", payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPutGetSmallPayloadBypassesCompression(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	payload := []byte("hello world")
	id, err := store.Put(ctx, "note", payload)
	require.NoError(t, err)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestGetMissingIDReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Get(ctx, "does-not-exist")
	require.Error(t, err)
	require.Equal(t, model.KindNotFound, model.Kind(err))
}

func TestDeleteThenGetReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	id, err := store.Put(ctx, "blob", []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))
	require.NoError(t, store.Delete(ctx, id)) // deleting twice is not an error

	_, err = store.Get(ctx, id)
	require.Equal(t, model.KindNotFound, model.Kind(err))
}

func TestListByTypeReflectsPutsAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	id1, err := store.Put(ctx, "photo", []byte("one"))
	require.NoError(t, err)
	id2, err := store.Put(ctx, "photo", []byte("two"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "note", []byte("three"))
	require.NoError(t, err)

	ids, err := store.ListByType(ctx, "photo")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{id1, id2}, ids)

	require.NoError(t, store.Delete(ctx, id1))
	ids, err = store.ListByType(ctx, "photo")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{id2}, ids)
}

// TestGetTamperedCiphertextReturnsCorrupted covers the GCM-tag-mismatch
// failure mode: flipping a byte in the sealed blob must surface as
// model.KindCorrupted, never a silent garbage decode.
func TestGetTamperedCiphertextReturnsCorrupted(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := ecstore.Open(ctx, nil, ecstore.Config{
		RootDir: root,
		Vault:   ecstore.NewMemoryVault(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	id, err := store.Put(ctx, "blob", []byte("authenticated payload"))
	require.NoError(t, err)

	blobPath := filepath.Join(root, "data", id+".bin")
	raw, err := os.ReadFile(blobPath)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(blobPath, raw, 0600))

	_, err = store.Get(ctx, id)
	require.Error(t, err)
	require.Equal(t, model.KindCorrupted, model.Kind(err))
}

func TestClearRemovesEverything(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	id, err := store.Put(ctx, "blob", []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx))

	_, err = store.Get(ctx, id)
	require.Equal(t, model.KindNotFound, model.Kind(err))

	ids, err := store.ListByType(ctx, "blob")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestUsageReportsCountAndBytes(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Put(ctx, "blob", []byte("payload one"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "blob", []byte("payload two"))
	require.NoError(t, err)

	usage, err := store.Usage(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, usage.Count)
	require.Greater(t, usage.Bytes, int64(0))
}

func TestMasterKeyPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	vault := ecstore.NewMemoryVault()

	store, err := ecstore.Open(ctx, nil, ecstore.Config{RootDir: root, Vault: vault})
	require.NoError(t, err)
	id, err := store.Put(ctx, "blob", []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := ecstore.Open(ctx, nil, ecstore.Config{RootDir: root, Vault: vault})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}
