package retryqueue

import (
	"encoding/json"
	"hash/crc32"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/offlinefirst/synccore/model"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// checksum computes the CRC32C used by model.Operation.Checksum.
func checksum(payload []byte) uint32 {
	return crc32.Checksum(payload, crc32cTable)
}

// persistence durably stores the operation set as a flat JSON document,
// written atomically (temp file then rename), per spec section 4.C/6. A
// persistence failure is reported to the caller but never fatal to the
// in-memory state, per section 4.C's failure semantics.
type persistence struct {
	path string
	log  *zap.Logger
}

func newPersistence(path string) *persistence {
	return &persistence{path: path}
}

// save writes ops to disk atomically.
func (p *persistence) save(ops []*model.Operation) error {
	for _, op := range ops {
		op.Checksum = checksum(op.Payload)
	}
	encoded, err := json.Marshal(ops)
	if err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0600); err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return model.StorageIO(Error.Wrap(err))
	}
	return nil
}

// load reads back the persisted operation set, demoting any inProgress
// operation to retrying with nextRetry = now, per spec section 4.C's
// restart recovery rule. Returns an empty slice if no file exists yet, and
// also an empty slice — never a hard error — if the file is malformed,
// fails its checksum, or fails Operation.Validate, per spec section 6: "a
// missing or malformed file is equivalent to an empty queue."
func (p *persistence) load(now func() time.Time, maxRetries int) ([]*model.Operation, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, model.StorageIO(Error.Wrap(err))
	}

	var ops []*model.Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		p.logDiscard(model.Corrupted(Error.Wrap(err)))
		return nil, nil
	}

	for _, op := range ops {
		if checksum(op.Payload) != op.Checksum {
			p.logDiscard(model.Corrupted(Error.New("operation %s: checksum mismatch on reload", op.OpID)))
			return nil, nil
		}
		if op.Status == model.StatusInProgress {
			t := now()
			op.Status = model.StatusRetrying
			op.NextRetry = &t
		}
		if err := op.Validate(maxRetries); err != nil {
			p.logDiscard(model.Corrupted(err))
			return nil, nil
		}
	}
	return ops, nil
}

func (p *persistence) logDiscard(err error) {
	if p.log != nil {
		p.log.Error("retryqueue: discarding unreadable persisted queue, starting empty", zap.Error(err))
	}
}
