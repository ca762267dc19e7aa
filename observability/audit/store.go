package audit

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"

	"dealchain/core/types"
)

// ErrChainBroken is returned by Verify when a stored record does not hash to
// the value recorded for it.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Record is one appended event.
type Record struct {
	Sequence  int64
	Type      string
	RequestID string
	Payload   map[string]string
	PrevHash  [32]byte
	Hash      [32]byte
	CreatedAt time.Time
}

// Store appends events to a SQLite table. Each row carries the blake3 hash of
// the previous row so that edits to the history are detectable.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	last  [32]byte
	nowFn func() time.Time
}

// Open creates or opens the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	store := &Store{db: db, nowFn: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            type TEXT NOT NULL,
            request_id TEXT,
            payload TEXT NOT NULL,
            prev_hash TEXT NOT NULL,
            hash TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	var last sql.NullString
	if err := s.db.QueryRow(`SELECT hash FROM events ORDER BY sequence DESC LIMIT 1`).Scan(&last); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if last.Valid {
		decoded, err := decodeHash(last.String)
		if err != nil {
			return err
		}
		s.last = decoded
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func chainHash(prev [32]byte, eventType string, payload []byte) [32]byte {
	var buf bytes.Buffer
	buf.Write(prev[:])
	buf.WriteString(eventType)
	buf.WriteByte(0)
	buf.Write(payload)
	return blake3.Sum256(buf.Bytes())
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("audit: malformed hash %q", s)
	}
	copy(out[:], raw)
	return out, nil
}

// Append stores evt and returns the written record.
func (s *Store) Append(ctx context.Context, evt *types.Event, requestID string) (*Record, error) {
	if evt == nil {
		return nil, fmt.Errorf("audit: nil event")
	}
	payload, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record := &Record{
		Type:      evt.Type,
		RequestID: requestID,
		Payload:   evt.Attributes,
		PrevHash:  s.last,
		Hash:      chainHash(s.last, evt.Type, payload),
		CreatedAt: s.nowFn().UTC(),
	}
	const stmt = `INSERT INTO events(type, request_id, payload, prev_hash, hash, created_at) VALUES(?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt, record.Type, record.RequestID, string(payload),
		hex.EncodeToString(record.PrevHash[:]), hex.EncodeToString(record.Hash[:]), record.CreatedAt)
	if err != nil {
		return nil, err
	}
	if record.Sequence, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	s.last = record.Hash
	return record, nil
}

// List returns up to limit records with a sequence greater than after.
func (s *Store) List(ctx context.Context, after int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT sequence, type, request_id, payload, prev_hash, hash, created_at FROM events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			requestID sql.NullString
			payload   string
			prev      string
			hash      string
		)
		if err := rows.Scan(&rec.Sequence, &rec.Type, &requestID, &payload, &prev, &hash, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.RequestID = requestID.String
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, err
		}
		if rec.PrevHash, err = decodeHash(prev); err != nil {
			return nil, err
		}
		if rec.Hash, err = decodeHash(hash); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Verify recomputes the hash chain over every stored record.
func (s *Store) Verify(ctx context.Context) error {
	const query = `SELECT sequence, type, payload, prev_hash, hash FROM events ORDER BY sequence ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	var prev [32]byte
	for rows.Next() {
		var (
			seq                    int64
			eventType, payload     string
			storedPrev, storedHash string
		)
		if err := rows.Scan(&seq, &eventType, &payload, &storedPrev, &storedHash); err != nil {
			return err
		}
		want := chainHash(prev, eventType, []byte(payload))
		if storedPrev != hex.EncodeToString(prev[:]) || storedHash != hex.EncodeToString(want[:]) {
			return fmt.Errorf("%w at sequence %d", ErrChainBroken, seq)
		}
		prev = want
	}
	return rows.Err()
}
