package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	challengeKeyPrefix = "challenge:"
	expiryKeyPrefix    = "expiry:"
)

var ErrChallengeUnknown = errors.New("auth: challenge unknown or already used")

// LevelDBChallengeStore keeps issued login challenges until they are
// consumed or expire, so a restart does not reopen replay windows.
type LevelDBChallengeStore struct {
	db *leveldb.DB
}

// NewLevelDBChallengeStore opens (or creates) a LevelDB database at the provided path.
func NewLevelDBChallengeStore(path string) (*LevelDBChallengeStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb challenge store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb challenge path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb challenge store: %w", err)
	}
	return &LevelDBChallengeStore{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (s *LevelDBChallengeStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put records a challenge for account expiring at expiresAt.
func (s *LevelDBChallengeStore) Put(ctx context.Context, account, nonce string, expiresAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("leveldb challenge store not configured")
	}
	if account == "" || nonce == "" {
		return fmt.Errorf("challenge record incomplete")
	}
	composite := compositeKey(account, nonce)
	nanos := expiresAt.UTC().UnixNano()
	batch := new(leveldb.Batch)
	batch.Put([]byte(challengeKeyPrefix+composite), encodeUnixNano(nanos))
	batch.Put([]byte(expiryKey(nanos, composite)), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("record challenge: %w", err)
	}
	return nil
}

// Consume deletes the challenge and returns its expiry. A challenge is
// deleted even when it has already expired.
func (s *LevelDBChallengeStore) Consume(ctx context.Context, account, nonce string, now time.Time) (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, fmt.Errorf("leveldb challenge store not configured")
	}
	composite := compositeKey(account, nonce)
	key := []byte(challengeKeyPrefix + composite)
	raw, err := s.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return time.Time{}, ErrChallengeUnknown
	case err != nil:
		return time.Time{}, fmt.Errorf("load challenge: %w", err)
	}
	nanos := int64(binary.BigEndian.Uint64(raw))
	batch := new(leveldb.Batch)
	batch.Delete(key)
	batch.Delete([]byte(expiryKey(nanos, composite)))
	if err := s.db.Write(batch, nil); err != nil {
		return time.Time{}, fmt.Errorf("consume challenge: %w", err)
	}
	expiresAt := time.Unix(0, nanos).UTC()
	if now.UTC().UnixNano() > nanos {
		return expiresAt, ErrChallengeExpired
	}
	return expiresAt, nil
}

// Prune deletes challenges that expired before cutoff and returns how many
// were removed.
func (s *LevelDBChallengeStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("leveldb challenge store not configured")
	}
	cutoffKey := []byte(expiryKey(cutoff.UTC().UnixNano(), ""))
	iter := s.db.NewIterator(util.BytesPrefix([]byte(expiryKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	removed := 0
	for iter.Next() {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		if string(iter.Key()) >= string(cutoffKey) {
			break
		}
		composite, _, ok := parseExpiryKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(challengeKeyPrefix + composite))
		removed++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterate challenges: %w", err)
	}
	if batch.Len() > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return 0, fmt.Errorf("prune challenges: %w", err)
		}
	}
	return removed, nil
}

func expiryKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", expiryKeyPrefix, nanos, composite)
}

func parseExpiryKey(key []byte) (string, int64, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}

func compositeKey(account, nonce string) string {
	return strings.ToLower(account) + "|" + nonce
}
