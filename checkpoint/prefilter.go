package checkpoint

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/linvon/cuckoo-filter"
	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/telemetry"
)

const (
	// Cuckoo filter configuration
	// capacity = bucketSize × numBuckets = 4 × 250000 = 1M entries
	cuckooBucketSize      = 4
	cuckooFingerprintSize = 32
	cuckooNumBuckets      = 250000
)

// hashBufPool reduces allocations for hash-to-bytes conversion.
var hashBufPool = sync.Pool{
	New: func() any { return make([]byte, 8) },
}

// SeenFilter is a process-local approximate index of recorded ats values.
// A MISS means the value is definitely unrecorded, so the SQL probe can be
// skipped. A HIT means the value might be recorded and must be confirmed
// against the store. The filter only ever errs toward the SQL probe, so dedup
// stays exact.
type SeenFilter struct {
	filter *cuckoo.Filter
	mu     sync.RWMutex
}

// NewSeenFilter creates an empty seen-value filter.
func NewSeenFilter() *SeenFilter {
	cf := cuckoo.NewFilter(cuckooBucketSize, cuckooFingerprintSize,
		cuckooNumBuckets, cuckoo.TableTypePacked)
	return &SeenFilter{filter: cf}
}

// WarmSeenFilter builds a filter preloaded with every durably recorded ats
// value. An empty filter would report every value as unrecorded after a
// restart, skip the SQL probe and republish entities recorded in earlier
// process lifetimes.
func WarmSeenFilter(ctx context.Context, store Store) (*SeenFilter, error) {
	f := NewSeenFilter()
	loaded := 0
	err := store.EachKnownValue(ctx, func(tenant, entityType, value string) error {
		f.Add(tenant, entityType, []string{value})
		loaded++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to warm seen-value filter: %w", err)
	}
	log.Debug().Int("values", loaded).Msg("Seen-value filter warmed")
	return f, nil
}

func valueHash(tenant, entityType, value string) uint64 {
	d := xxhash.New()
	d.WriteString(tenant)
	d.WriteString(":")
	d.WriteString(entityType)
	d.WriteString(":")
	d.WriteString(value)
	return d.Sum64()
}

// MightContain returns true if the value MIGHT be recorded (store probe
// required) and false if it definitely is not.
func (f *SeenFilter) MightContain(tenant, entityType, value string) bool {
	h := valueHash(tenant, entityType, value)

	f.mu.RLock()
	buf := hashBufPool.Get().([]byte)
	binary.LittleEndian.PutUint64(buf, h)
	result := f.filter.Contain(buf)
	hashBufPool.Put(buf)
	f.mu.RUnlock()

	if result {
		telemetry.SeenValuePrefilterTotal.With("hit").Inc()
	} else {
		telemetry.SeenValuePrefilterTotal.With("miss").Inc()
	}
	return result
}

// Add marks values as recorded. Called after the store write succeeds.
func (f *SeenFilter) Add(tenant, entityType string, values []string) {
	f.mu.Lock()
	buf := hashBufPool.Get().([]byte)
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf, valueHash(tenant, entityType, v))
		f.filter.Add(buf)
	}
	hashBufPool.Put(buf)
	f.mu.Unlock()
}
