package eventstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/c360/rulecore/debug"
	"github.com/c360/rulecore/errors"
	"github.com/c360/rulecore/metric"
	"github.com/c360/rulecore/storage"
)

var _ storage.EventStore = (*BoltStore)(nil)

const (
	streamPrefixLen = 32
	keyLen          = streamPrefixLen + 8 + 16
)

// BoltStore persists events in a single bbolt file
type BoltStore struct {
	db      *bbolt.DB
	logger  *slog.Logger
	metrics *storeMetrics
}

// OpenBolt opens or creates the store file at path
func OpenBolt(path string, logger *slog.Logger, registry *metric.MetricsRegistry) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WrapFatal(err, "BoltStore", "Open", fmt.Sprintf("open %s", path))
	}
	m, err := newStoreMetrics(registry, BackendBolt)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "BoltStore", "Open", "register metrics")
	}
	return &BoltStore{
		db:      db,
		logger:  logger.With("component", "eventstore", "path", path),
		metrics: m,
	}, nil
}

func streamPrefix(tenantID, entityID uuid.UUID) []byte {
	p := make([]byte, streamPrefixLen, keyLen)
	copy(p, tenantID[:])
	copy(p[16:], entityID[:])
	return p
}

func eventKey(h *debug.EventBase) []byte {
	k := streamPrefix(h.TenantID, h.EntityID)
	k = binary.BigEndian.AppendUint64(k, uint64(h.TS))
	return append(k, h.ID[:]...)
}

func keyTS(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k[streamPrefixLen:]))
}

// prefixEnd returns the smallest key above every key starting with prefix,
// nil when there is none
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func (s *BoltStore) wrapDBError(err error, method, action string) error {
	if stderrors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return errClosed("BoltStore", method)
	}
	return errors.WrapTransient(err, "BoltStore", method, action)
}

// SaveEvent writes ev into the bucket of its type
func (s *BoltStore) SaveEvent(ctx context.Context, ev debug.Event) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "BoltStore", "SaveEvent", "check context")
	}
	start := time.Now()
	value, err := json.Marshal(ev)
	if err != nil {
		return errors.WrapInvalid(err, "BoltStore", "SaveEvent", "marshal event")
	}
	key := eventKey(ev.Header())

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ev.Type()))
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
	if err != nil {
		s.metrics.recordError("save")
		return s.wrapDBError(err, "SaveEvent", "write event")
	}
	s.metrics.recordWrite(string(ev.Type()), start)
	return nil
}

// Find walks the stream key range backwards, newest first
func (s *BoltStore) Find(ctx context.Context, tenantID, entityID uuid.UUID, eventType debug.EventType, limit int) ([]debug.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "BoltStore", "Find", "check context")
	}
	prefix := streamPrefix(tenantID, entityID)
	var out []debug.Event

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(eventType))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var k, v []byte
		if end := prefixEnd(prefix); end == nil {
			k, v = c.Last()
		} else if k, _ = c.Seek(end); k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			ev, err := debug.DecodeEvent(eventType, v)
			if err != nil {
				return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrDataCorrupted, err), "BoltStore", "Find", "decode event")
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		s.metrics.recordError("find")
		if errors.IsFatal(err) {
			return nil, err
		}
		return nil, s.wrapDBError(err, "Find", "read events")
	}
	s.metrics.recordRead()
	return out, nil
}

// DeleteBefore removes expired events from every bucket
func (s *BoltStore) DeleteBefore(ctx context.Context, ts int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.WrapTransient(err, "BoltStore", "DeleteBefore", "check context")
	}
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			var expired [][]byte
			if err := b.ForEach(func(k, _ []byte) error {
				if len(k) == keyLen && keyTS(k) < ts {
					expired = append(expired, bytes.Clone(k))
				}
				return nil
			}); err != nil {
				return err
			}
			for _, k := range expired {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			removed += len(expired)
			return nil
		})
	})
	if err != nil {
		s.metrics.recordError("delete")
		return 0, s.wrapDBError(err, "DeleteBefore", "delete events")
	}
	s.metrics.recordDeleted(removed)
	if removed > 0 {
		s.logger.Debug("Removed expired events", "count", removed, "before", ts)
	}
	return removed, nil
}

// Close closes the database file
func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "BoltStore", "Close", "close database")
	}
	return nil
}
