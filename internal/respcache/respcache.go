// Package respcache is the persistent second-level response cache. Values
// survive restarts in the cache database as msgpack blobs with an absolute
// expiry; lookups decode back into the typed value for the data type.
package respcache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fintelcore/fintel/internal/database"
	"github.com/fintelcore/fintel/internal/domain"
)

// Store persists provider responses in the cache database.
type Store struct {
	db      *database.DB
	enabled bool
	log     zerolog.Logger
}

// New creates a response store over the cache database.
func New(db *database.DB, enabled bool, log zerolog.Logger) *Store {
	return &Store{
		db:      db,
		enabled: enabled,
		log:     log.With().Str("component", "respcache").Logger(),
	}
}

// Store encodes value and upserts it under key with an absolute expiry.
func (s *Store) Store(key string, dataType domain.DataType, provider string, ttlSeconds int, value interface{}) error {
	if !s.enabled || ttlSeconds <= 0 {
		return nil
	}

	blob, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode response for %s: %w", key, err)
	}

	expiresAt := time.Now().Add(time.Duration(ttlSeconds) * time.Second).Unix()
	_, err = s.db.Exec(`
		INSERT INTO provider_responses (cache_key, data_type, provider, data, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			data_type = excluded.data_type,
			provider = excluded.provider,
			data = excluded.data,
			expires_at = excluded.expires_at`,
		key, string(dataType), provider, blob, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to persist response for %s: %w", key, err)
	}
	return nil
}

// GetIfFresh returns the decoded value for key if present and unexpired.
// Expired rows are treated as misses; the sweep job removes them.
func (s *Store) GetIfFresh(key string, dataType domain.DataType) (interface{}, string, bool) {
	if !s.enabled {
		return nil, "", false
	}

	var (
		blob     []byte
		provider string
	)
	err := s.db.QueryRow(`
		SELECT data, provider FROM provider_responses
		WHERE cache_key = ? AND expires_at > ?`,
		key, time.Now().Unix()).Scan(&blob, &provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false
	}
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Persistent cache read failed")
		return nil, "", false
	}

	value, err := decode(dataType, blob)
	if err != nil {
		// A blob we can no longer decode is stale schema; drop it.
		s.log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		_, _ = s.db.Exec(`DELETE FROM provider_responses WHERE cache_key = ?`, key)
		return nil, "", false
	}
	return value, provider, true
}

// decode unmarshals a blob into the typed value the router hands callers.
func decode(dataType domain.DataType, blob []byte) (interface{}, error) {
	switch dataType {
	case domain.DataQuote:
		var v domain.Quote
		if err := msgpack.Unmarshal(blob, &v); err != nil {
			return nil, err
		}
		return &v, nil
	case domain.DataHistory:
		var v domain.History
		if err := msgpack.Unmarshal(blob, &v); err != nil {
			return nil, err
		}
		return &v, nil
	case domain.DataFundamentals:
		var v domain.Fundamentals
		if err := msgpack.Unmarshal(blob, &v); err != nil {
			return nil, err
		}
		return &v, nil
	case domain.DataInfo:
		var v domain.Info
		if err := msgpack.Unmarshal(blob, &v); err != nil {
			return nil, err
		}
		return &v, nil
	case domain.DataOptionsExpirations:
		var v []string
		if err := msgpack.Unmarshal(blob, &v); err != nil {
			return nil, err
		}
		return v, nil
	case domain.DataOptionsChain:
		var v domain.OptionChain
		if err := msgpack.Unmarshal(blob, &v); err != nil {
			return nil, err
		}
		return &v, nil
	case domain.DataEarnings:
		var v []domain.Earnings
		if err := msgpack.Unmarshal(blob, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("no decoder for data type %q", dataType)
	}
}

// DeleteExpired removes expired rows. Wired to a cron schedule.
func (s *Store) DeleteExpired() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM provider_responses WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired responses: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Debug().Int64("removed", n).Msg("Swept expired cache entries")
	}
	return n, nil
}

// Count returns the number of stored responses.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM provider_responses`).Scan(&n)
	return n, err
}
