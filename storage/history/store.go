// Package history keeps the value history of gateway resources in LevelDB.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	errs "github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/errors"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/health"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/storage"
)

const sinkName = "history"

// Record is one stored resource value
type Record struct {
	notification.EntityPath
	Type      string    `json:"type,omitempty"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists DATA notifications. It implements notification.Sink and
// storage.Store and is safe for concurrent use.
type Store struct {
	db      *leveldb.DB
	path    string
	logger  *slog.Logger
	metrics *metric.Metrics

	stored atomic.Int64
	failed atomic.Int64
	closed atomic.Bool
}

var (
	_ notification.Sink = (*Store)(nil)
	_ storage.Store     = (*Store)(nil)
)

// Open opens or creates the database in dir
func Open(dir string, logger *slog.Logger, metrics *metric.Metrics) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errs.WrapFatal(fmt.Errorf("%w: %w", errs.ErrStorageUnavailable, err), "history.Store", "Open", "open "+dir)
	}
	logger.Info("History store opened", "path", dir)
	return &Store{
		db:      db,
		path:    dir,
		logger:  logger.With("sink", sinkName),
		metrics: metrics,
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Deliver stores data notifications and ignores every other kind
func (s *Store) Deliver(_ string, n notification.Notification) {
	d, ok := n.(*notification.ResourceDataNotification)
	if !ok {
		return
	}
	if err := s.Append(d); err != nil {
		s.failed.Add(1)
		s.metrics.RecordSinkError(sinkName)
		s.logger.Error("Failed to store value", "resource", d.EntityPath.String(), "error", err)
		return
	}
	s.stored.Add(1)
	s.metrics.RecordSinkPublished(sinkName)
}

// Append stores the new value of d at its timestamp
func (s *Store) Append(d *notification.ResourceDataNotification) error {
	rec := Record{
		EntityPath: d.EntityPath,
		Type:       d.Type,
		Value:      d.NewValue,
		Timestamp:  d.Timestamp,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.WrapInvalid(fmt.Errorf("%w: %w", errs.ErrEncodeFailed, err), "history.Store", "Append", "marshal record")
	}
	if err := s.db.Put(recordKey(d.EntityPath, d.Timestamp), data, nil); err != nil {
		return errs.WrapTransient(err, "history.Store", "Append", "put record")
	}
	return nil
}

// Latest returns the most recent value of the resource at path
func (s *Store) Latest(path notification.EntityPath) (Record, error) {
	iter := s.db.NewIterator(util.BytesPrefix(resourcePrefix(path)), nil)
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return Record{}, errs.WrapTransient(err, "history.Store", "Latest", "iterate")
		}
		return Record{}, errs.WrapInvalid(errs.ErrKeyNotFound, "history.Store", "Latest", "no value for "+path.String())
	}
	return decodeRecord(iter.Value())
}

// Range returns the values of the resource with from <= timestamp < to in
// time order. A zero from or to leaves that side unbounded.
func (s *Store) Range(path notification.EntityPath, from, to time.Time) ([]Record, error) {
	r := util.BytesPrefix(resourcePrefix(path))
	if !from.IsZero() {
		r.Start = recordKey(path, from)
	}
	if !to.IsZero() {
		r.Limit = recordKey(path, to)
	}

	iter := s.db.NewIterator(r, nil)
	defer iter.Release()

	var out []Record
	for iter.Next() {
		rec, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, errs.WrapTransient(err, "history.Store", "Range", "iterate")
	}
	return out, nil
}

// Purge deletes the stored values of every resource below path
func (s *Store) Purge(path notification.EntityPath) (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix(entityPrefix(path)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return 0, errs.WrapTransient(err, "history.Store", "Purge", "iterate")
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return 0, errs.WrapTransient(err, "history.Store", "Purge", "write batch")
	}
	return batch.Len(), nil
}

// Put implements storage.Store
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	if err := s.db.Put([]byte(key), data, nil); err != nil {
		return errs.WrapTransient(err, "history.Store", "Put", "put "+key)
	}
	return nil
}

// Get implements storage.Store
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	data, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, errs.WrapInvalid(errs.ErrKeyNotFound, "history.Store", "Get", "get "+key)
	}
	if err != nil {
		return nil, errs.WrapTransient(err, "history.Store", "Get", "get "+key)
	}
	return data, nil
}

// List implements storage.Store
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	keys := []string{}
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, errs.WrapTransient(err, "history.Store", "List", "iterate")
	}
	return keys, nil
}

// Delete implements storage.Store
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return errs.WrapTransient(err, "history.Store", "Delete", "delete "+key)
	}
	return nil
}

// Health reports whether the database is open
func (s *Store) Health() health.Status {
	var st health.Status
	if s.closed.Load() {
		st = health.NewUnhealthy(sinkName, "store closed")
	} else {
		st = health.NewHealthy(sinkName, "store open")
	}
	s.metrics.RecordHealth(sinkName, st.Healthy)
	return st.WithMetrics(&health.Metrics{
		Published:  s.stored.Load(),
		ErrorCount: s.failed.Load(),
	})
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, errs.WrapFatal(fmt.Errorf("%w: %w", errs.ErrDataCorrupted, err), "history.Store", "decode", "unmarshal record")
	}
	return rec, nil
}

// entityPrefix is the key prefix of everything below path. Segments are
// escaped so names containing "/" stay unambiguous.
func entityPrefix(p notification.EntityPath) []byte {
	key := url.PathEscape(p.Provider) + "/"
	if p.Service != "" {
		key += url.PathEscape(p.Service) + "/"
		if p.Resource != "" {
			key += url.PathEscape(p.Resource) + "/"
		}
	}
	return []byte(key)
}

func resourcePrefix(p notification.EntityPath) []byte {
	return []byte(url.PathEscape(p.Provider) + "/" + url.PathEscape(p.Service) + "/" + url.PathEscape(p.Resource) + "/")
}

// recordKey appends the unix nanos with the sign bit flipped, big-endian,
// so unsigned byte order matches time order across the epoch.
func recordKey(p notification.EntityPath, ts time.Time) []byte {
	prefix := resourcePrefix(p)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], timeKey(ts))
	return key
}

// timeKey maps the zero time to the smallest key.
func timeKey(ts time.Time) uint64 {
	if ts.IsZero() {
		return 0
	}
	return uint64(ts.UnixNano()) ^ (1 << 63)
}
