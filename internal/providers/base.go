package providers

import (
	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/domain"
)

// AdapterBase carries the identity, capability tables, TTLs, and protection
// layer shared by every provider adapter. Adapters embed it and implement
// SupportsSymbol plus the data getters.
type AdapterBase struct {
	name      string
	priority  int
	guard     *Guard
	dataTypes []domain.DataType
	markets   []domain.Market
	ttl       map[domain.DataType]int
}

// NewAdapterBase builds the shared adapter state. defaultTTL holds the
// adapter's published per-data-type TTLs in seconds; cfg.CacheTTL entries
// override them.
func NewAdapterBase(
	name string,
	cfg config.ProviderConfig,
	dataTypes []domain.DataType,
	markets []domain.Market,
	defaultTTL map[domain.DataType]int,
	log zerolog.Logger,
) *AdapterBase {
	ttl := make(map[domain.DataType]int, len(defaultTTL))
	for dt, secs := range defaultTTL {
		ttl[dt] = secs
	}
	for key, secs := range cfg.CacheTTL {
		ttl[domain.DataType(key)] = secs
	}

	return &AdapterBase{
		name:      name,
		priority:  cfg.Priority,
		guard:     NewGuard(name, cfg, log),
		dataTypes: dataTypes,
		markets:   markets,
		ttl:       ttl,
	}
}

func (b *AdapterBase) Name() string                          { return b.name }
func (b *AdapterBase) Priority() int                         { return b.priority }
func (b *AdapterBase) SupportedDataTypes() []domain.DataType { return b.dataTypes }
func (b *AdapterBase) SupportedMarkets() []domain.Market     { return b.markets }

// CacheTTL returns the TTL in seconds for one data type, 0 when uncacheable.
func (b *AdapterBase) CacheTTL(dt domain.DataType) int {
	return b.ttl[dt]
}

// Health returns the guard's current snapshot.
func (b *AdapterBase) Health() domain.HealthSnapshot {
	return b.guard.Snapshot(true)
}

// Guard exposes the protection layer for the adapter's call sites.
func (b *AdapterBase) Guard() *Guard {
	return b.guard
}
