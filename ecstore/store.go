package ecstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/offlinefirst/synccore/model"
)

// masterKeyTag is the secret-vault tag under which the generated master key
// is stored, per spec section 4.A.
const masterKeyTag = "offlinefirst.ecstore.masterkey"

// Config configures a Store, using the same config-struct-with-defaults
// idiom as storagenode/gracefulexit/common.go's Config.
type Config struct {
	// RootDir is the store's root directory, holding data/ and meta/.
	RootDir string
	// Algorithm is the default AEAD cipher for newly-written blobs.
	Algorithm Algorithm
	// Compression is the default compression codec.
	Compression CompressionAlgorithm
	// MinSizeToCompress is the threshold below which compression is
	// bypassed, default 1024 bytes.
	MinSizeToCompress int
	// Vault supplies and persists the master key. Required.
	Vault model.SecretVault
}

func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = AlgorithmAES256GCM
	}
	if c.Compression == "" {
		c.Compression = CompressionDeflate
	}
	if c.MinSizeToCompress == 0 {
		c.MinSizeToCompress = defaultMinSizeToCompress
	}
	return c
}

// Store is the Encrypted Compressed Store (spec section 4.A): a typed
// logical key space of opaque byte payloads, authenticated-encrypted and
// optionally compressed at rest. It is safe for concurrent use.
type Store struct {
	log    logger
	config Config

	mu        sync.RWMutex
	masterKey []byte
	idx       *index
}

// logger is the minimal interface the store needs, satisfied by *zap.Logger;
// kept narrow here so tests can supply a no-op implementation without
// pulling zap's full surface into scope.
type logger interface {
	Error(msg string, fields ...zap.Field)
}

// Open opens (or initializes) a store rooted at config.RootDir. The master
// key is loaded from config.Vault, generating and storing one on first use.
func Open(ctx context.Context, log logger, config Config) (_ *Store, err error) {
	defer mon.Task()(&ctx)(&err)
	config = config.withDefaults()
	if config.Vault == nil {
		return nil, model.KeychainError(Error.New("config.Vault is required"))
	}

	for _, dir := range []string{dataDir(config.RootDir), metaDir(config.RootDir)} {
		if err := os.MkdirAll(dir, dataDirPermission); err != nil {
			return nil, model.StorageIO(Error.Wrap(err))
		}
	}

	key, err := config.Vault.Retrieve(masterKeyTag)
	if err != nil {
		key, err = generateMasterKey()
		if err != nil {
			return nil, err
		}
		if err := config.Vault.Store(masterKeyTag, key); err != nil {
			return nil, model.KeychainError(Error.Wrap(err))
		}
	}

	idx, err := openIndex(indexPath(config.RootDir))
	if err != nil {
		// The durable source of truth is the meta/ tree; an unusable
		// index is rebuilt from it rather than treated as fatal.
		idx, err = openIndex(indexPath(config.RootDir) + ".rebuilt")
		if err != nil {
			return nil, err
		}
	}
	if err := rebuildIndex(metaDir(config.RootDir), idx); err != nil {
		return nil, err
	}

	return &Store{log: log, config: config, masterKey: key, idx: idx}, nil
}

// Close releases the store's secondary index handle.
func (s *Store) Close() error {
	return s.idx.Close()
}

func dataDir(root string) string  { return filepath.Join(root, "data") }
func metaDir(root string) string  { return filepath.Join(root, "meta") }
func indexPath(root string) string { return filepath.Join(root, "index.bolt") }

func blobPath(root, id string) string { return filepath.Join(dataDir(root), id+".bin") }
func metaPath(root, id string) string { return filepath.Join(metaDir(root), id+".json") }

// Put persists typeTag-tagged payload, returning its newly-generated id.
func (s *Store) Put(ctx context.Context, typeTag string, payload []byte) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	s.mu.RLock()
	key := s.masterKey
	config := s.config
	s.mu.RUnlock()

	compressed, err := compress(config.Compression, payload, config.MinSizeToCompress)
	if err != nil {
		return "", err
	}

	sealed, err := seal(config.Algorithm, key, compressed.Data)
	if err != nil {
		return "", err
	}

	generatedID, err := uuid.New()
	if err != nil {
		return "", model.StorageIO(Error.Wrap(err))
	}
	id := generatedID.String()
	now := time.Now()

	if err := writeAtomic(blobPath(config.RootDir, id), sealed, blobPermission); err != nil {
		return "", model.StorageIO(Error.Wrap(err))
	}

	meta := blobMeta{
		ID:           id,
		Type:         typeTag,
		CreatedAt:    now,
		UpdatedAt:    now,
		Size:         int64(len(sealed)),
		Algorithm:    config.Algorithm,
		Compressed:   compressed.Compressed,
		CompressAlgo: compressed.Algorithm,
		OriginalSize: int64(compressed.OriginalSize),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		_ = os.Remove(blobPath(config.RootDir, id))
		return "", model.StorageIO(Error.Wrap(err))
	}
	if err := writeAtomic(metaPath(config.RootDir, id), metaBytes, metaPermission); err != nil {
		_ = os.Remove(blobPath(config.RootDir, id))
		return "", model.StorageIO(Error.Wrap(err))
	}

	if err := s.idx.put(meta); err != nil {
		s.logErr("ecstore: index put failed, meta tree remains authoritative", err)
	}

	return id, nil
}

// Get retrieves and decrypts/decompresses the payload stored under id.
func (s *Store) Get(ctx context.Context, id string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	s.mu.RLock()
	key := s.masterKey
	root := s.config.RootDir
	s.mu.RUnlock()

	meta, err := readMeta(root, id)
	if err != nil {
		return nil, err
	}

	sealed, err := os.ReadFile(blobPath(root, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.NotFound(Error.New("no blob with id %q", id))
		}
		return nil, model.StorageIO(Error.Wrap(err))
	}

	plain, err := open(meta.Algorithm, key, sealed)
	if err != nil {
		return nil, err
	}

	if !meta.Compressed {
		return plain, nil
	}
	return decompress(meta.CompressAlgo, plain, int(meta.OriginalSize))
}

// Delete removes the blob and metadata stored under id. Deleting an
// already-absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	defer mon.Task()(&ctx)(&err)

	root := s.config.RootDir
	meta, metaErr := readMeta(root, id)

	if err := os.Remove(blobPath(root, id)); err != nil && !os.IsNotExist(err) {
		return model.StorageIO(Error.Wrap(err))
	}
	if err := os.Remove(metaPath(root, id)); err != nil && !os.IsNotExist(err) {
		return model.StorageIO(Error.Wrap(err))
	}

	if metaErr == nil {
		if err := s.idx.remove(id, meta.Type); err != nil {
			s.logErr("ecstore: index remove failed", err)
		}
	}
	return nil
}

// ListByType returns every id stored under typeTag.
func (s *Store) ListByType(ctx context.Context, typeTag string) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.idx.listByType(typeTag)
}

// Clear removes every blob, metadata entry, and index row.
func (s *Store) Clear(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	root := s.config.RootDir
	if err := removeContents(dataDir(root)); err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	if err := removeContents(metaDir(root)); err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	return s.idx.clear()
}

// Usage reports approximate disk usage for the store.
type Usage struct {
	Bytes int64
	Count int
	Free  int64
}

// Usage walks the data directory to report total bytes, blob count, and
// free space on the underlying filesystem.
func (s *Store) Usage(ctx context.Context) (_ Usage, err error) {
	defer mon.Task()(&ctx)(&err)
	root := s.config.RootDir

	var usage Usage
	entries, err := os.ReadDir(dataDir(root))
	if err != nil {
		if os.IsNotExist(err) {
			return usage, nil
		}
		return Usage{}, model.StorageIO(Error.Wrap(err))
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		usage.Bytes += info.Size()
		usage.Count++
	}

	free, err := freeSpace(root)
	if err != nil {
		s.logErr("ecstore: free space lookup failed", err)
	}
	usage.Free = free
	return usage, nil
}

func readMeta(root, id string) (blobMeta, error) {
	raw, err := os.ReadFile(metaPath(root, id))
	if err != nil {
		if os.IsNotExist(err) {
			return blobMeta{}, model.NotFound(Error.New("no metadata for id %q", id))
		}
		return blobMeta{}, model.StorageIO(Error.Wrap(err))
	}
	var meta blobMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return blobMeta{}, model.Corrupted(Error.Wrap(err))
	}
	return meta, nil
}

// writeAtomic writes data to a sibling temp file and renames it into place,
// the same commit idiom as storage/filestore/dir.go (create-temp,
// Sync/Chmod, rename).
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func removeContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) logErr(msg string, err error) {
	if s.log != nil {
		s.log.Error(msg, zap.Error(err))
	}
}
