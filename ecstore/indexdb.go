package ecstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/offlinefirst/synccore/model"
)

// indexBucketByType and indexBucketMeta are the two bbolt buckets backing
// the secondary index: type -> "\x00"-joined id list, and id -> marshaled
// blobMeta. The flat meta/*.json tree remains the durable source of truth
// per spec section 6; this index only accelerates listByType.
var (
	indexBucketByType = []byte("by_type")
	indexBucketMeta   = []byte("by_id")
)

// index is a bbolt-backed secondary index pairing the on-disk blob tree
// with a bolt-backed lookup, the same combination storagenode/storagenodedb
// uses alongside its blob store.
type index struct {
	db *bolt.DB
}

func openIndex(path string) (*index, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, model.StorageIO(Error.Wrap(err))
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(indexBucketByType); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(indexBucketMeta)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, model.StorageIO(Error.Wrap(err))
	}
	return &index{db: db}, nil
}

func (idx *index) Close() error {
	return idx.db.Close()
}

func (idx *index) put(meta blobMeta) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	err = idx.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(indexBucketMeta).Put([]byte(meta.ID), encoded); err != nil {
			return err
		}
		return addToTypeList(tx.Bucket(indexBucketByType), meta.Type, meta.ID)
	})
	if err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	return nil
}

func (idx *index) remove(id, typeTag string) error {
	err := idx.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(indexBucketMeta).Delete([]byte(id)); err != nil {
			return err
		}
		return removeFromTypeList(tx.Bucket(indexBucketByType), typeTag, id)
	})
	if err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	return nil
}

func (idx *index) clear() error {
	err := idx.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(indexBucketByType); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if err := tx.DeleteBucket(indexBucketMeta); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(indexBucketByType); err != nil {
			return err
		}
		_, err := tx.CreateBucket(indexBucketMeta)
		return err
	})
	if err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	return nil
}

func (idx *index) listByType(typeTag string) ([]string, error) {
	var ids []string
	err := idx.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(indexBucketByType).Get([]byte(typeTag))
		ids = splitTypeList(raw)
		return nil
	})
	if err != nil {
		return nil, model.StorageIO(Error.Wrap(err))
	}
	return ids, nil
}

// rebuildIndex reconstructs the bolt index from the meta/*.json tree. Open
// calls it on every open, including when the index file was missing or
// failed to open cleanly.
func rebuildIndex(metaDir string, idx *index) error {
	entries, err := os.ReadDir(metaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return model.StorageIO(Error.Wrap(err))
	}
	if err := idx.clear(); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(metaDir, entry.Name()))
		if err != nil {
			continue
		}
		var m blobMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if err := idx.put(m); err != nil {
			return err
		}
	}
	return nil
}

const typeListSeparator = "\x00"

func addToTypeList(bucket *bolt.Bucket, typeTag, id string) error {
	existing := splitTypeList(bucket.Get([]byte(typeTag)))
	for _, existingID := range existing {
		if existingID == id {
			return nil
		}
	}
	existing = append(existing, id)
	return bucket.Put([]byte(typeTag), []byte(joinTypeList(existing)))
}

func removeFromTypeList(bucket *bolt.Bucket, typeTag, id string) error {
	existing := splitTypeList(bucket.Get([]byte(typeTag)))
	filtered := existing[:0]
	for _, existingID := range existing {
		if existingID != id {
			filtered = append(filtered, existingID)
		}
	}
	if len(filtered) == 0 {
		return bucket.Delete([]byte(typeTag))
	}
	return bucket.Put([]byte(typeTag), []byte(joinTypeList(filtered)))
}

func splitTypeList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var ids []string
	start := 0
	s := string(raw)
	for i := 0; i < len(s); i++ {
		if s[i] == typeListSeparator[0] {
			ids = append(ids, s[start:i])
			start = i + 1
		}
	}
	ids = append(ids, s[start:])
	return ids
}

func joinTypeList(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += typeListSeparator
		}
		out += id
	}
	return out
}
