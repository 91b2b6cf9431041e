// Package cache persists marketplace responses in bbolt so the catalog can be
// served when the hub is unreachable.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"mcphub-go/internal/contracts"
)

const (
	CacheBucket      = "marketplace"
	CacheStatsBucket = "marketplace_stats"
	DefaultTTL       = time.Hour
	// DefaultMaxStale is how long an expired entry is kept as a fallback
	DefaultMaxStale = 7 * 24 * time.Hour
	CleanupInterval = 10 * time.Minute
)

// ErrNotFound is returned when nothing usable is cached for a key
var ErrNotFound = errors.New("cache key not found")

// Options tunes expiry
type Options struct {
	TTL      time.Duration
	MaxStale time.Duration
	// Now is the clock; tests replace it
	Now func() time.Time
}

// Manager handles cached marketplace responses
type Manager struct {
	db       *bbolt.DB
	ownsDB   bool
	logger   *zap.Logger
	ttl      time.Duration
	maxStale time.Duration
	now      func() time.Time

	mu    sync.Mutex
	stats Stats

	stopCh    chan struct{}
	closeOnce sync.Once
}

// Open opens (or creates) the cache database at path
func Open(path string, opts Options, logger *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	m, err := NewManager(db, opts, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	m.ownsDB = true
	return m, nil
}

// NewManager creates a cache manager on an open database
func NewManager(db *bbolt.DB, opts Options, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxStale <= 0 {
		opts.MaxStale = DefaultMaxStale
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	manager := &Manager{
		db:       db,
		logger:   logger.Named("cache"),
		ttl:      opts.TTL,
		maxStale: opts.MaxStale,
		now:      opts.Now,
		stopCh:   make(chan struct{}),
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(CacheBucket)); err != nil {
			return fmt.Errorf("create cache bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(CacheStatsBucket)); err != nil {
			return fmt.Errorf("create cache stats bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := manager.loadStats(); err != nil {
		manager.logger.Warn("Failed to load cache stats", zap.Error(err))
	}

	go manager.startCleanup()

	return manager, nil
}

// DB exposes the database for health checks
func (m *Manager) DB() *bbolt.DB {
	return m.db
}

// CatalogKey derives the key of a catalog query
func CatalogKey(query contracts.MarketplaceQuery) string {
	normalized := contracts.MarketplaceQuery{
		Search:   strings.ToLower(strings.TrimSpace(query.Search)),
		Category: strings.ToLower(strings.TrimSpace(query.Category)),
		Sort:     strings.ToLower(strings.TrimSpace(query.Sort)),
	}
	data, _ := json.Marshal(normalized)
	hash := sha256.Sum256(append([]byte("catalog:"), data...))
	return hex.EncodeToString(hash[:])
}

// DetailsKey derives the key of an item's details
func DetailsKey(mcpID string) string {
	return "details:" + mcpID
}

// PutCatalog stores a fetched catalog page
func (m *Manager) PutCatalog(query contracts.MarketplaceQuery, items []contracts.MarketplaceItem) error {
	entry := CatalogEntry{Query: query, Items: items, FetchedAt: m.now()}
	return m.put(CatalogKey(query), KindCatalog, entry)
}

// Catalog returns a cached catalog page. Entries past their TTL are returned
// with Expired set until they age out completely.
func (m *Manager) Catalog(query contracts.MarketplaceQuery) (*CatalogEntry, error) {
	var entry CatalogEntry
	expired, err := m.get(CatalogKey(query), &entry)
	if err != nil {
		return nil, err
	}
	entry.Expired = expired
	return &entry, nil
}

// PutDetails stores fetched item details
func (m *Manager) PutDetails(details contracts.MarketplaceDetails) error {
	entry := DetailsEntry{Details: details, FetchedAt: m.now()}
	return m.put(DetailsKey(details.MCPID), KindDetails, entry)
}

// Details returns cached item details
func (m *Manager) Details(mcpID string) (*DetailsEntry, error) {
	var entry DetailsEntry
	expired, err := m.get(DetailsKey(mcpID), &entry)
	if err != nil {
		return nil, err
	}
	entry.Expired = expired
	return &entry, nil
}

func (m *Manager) put(key string, kind Kind, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}
	now := m.now()
	record := &Record{
		Key:          key,
		Kind:         kind,
		Payload:      payload,
		Size:         len(payload),
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		LastAccessed: now,
	}

	return m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CacheBucket))
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal cache record: %w", err)
		}

		m.mu.Lock()
		if prev := bucket.Get([]byte(key)); prev != nil {
			var old Record
			if old.UnmarshalBinary(prev) == nil {
				m.stats.TotalEntries--
				m.stats.TotalSizeBytes -= old.Size
			}
		}
		m.stats.TotalEntries++
		m.stats.TotalSizeBytes += record.Size
		m.mu.Unlock()

		if err := bucket.Put([]byte(key), data); err != nil {
			return fmt.Errorf("store cache record: %w", err)
		}
		return m.saveStats(tx)
	})
}

// get commits miss and eviction bookkeeping before reporting ErrNotFound,
// since returning an error from Update rolls the transaction back.
func (m *Manager) get(key string, out any) (bool, error) {
	var expired, found bool

	err := m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CacheBucket))
		data := bucket.Get([]byte(key))
		if data == nil {
			m.count(func(s *Stats) { s.MissCount++ })
			return m.saveStats(tx)
		}

		record := &Record{}
		if err := record.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("unmarshal cache record: %w", err)
		}

		now := m.now()
		if now.Sub(record.ExpiresAt) > m.maxStale {
			_ = bucket.Delete([]byte(key))
			m.count(func(s *Stats) {
				s.EvictedCount++
				s.MissCount++
				s.TotalEntries--
				s.TotalSizeBytes -= record.Size
			})
			return m.saveStats(tx)
		}
		expired = record.IsExpired(now)
		found = true

		if err := json.Unmarshal(record.Payload, out); err != nil {
			return fmt.Errorf("unmarshal cache payload: %w", err)
		}

		record.AccessCount++
		record.LastAccessed = now
		updated, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal updated record: %w", err)
		}
		if err := bucket.Put([]byte(key), updated); err != nil {
			return fmt.Errorf("update access stats: %w", err)
		}

		m.count(func(s *Stats) {
			if expired {
				s.StaleCount++
			} else {
				s.HitCount++
			}
		})
		return m.saveStats(tx)
	})
	if err != nil {
		return false, err
	}
	if !found {
		return false, ErrNotFound
	}
	return expired, nil
}

// Stats returns a copy of the current statistics
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) count(fn func(*Stats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}

// startCleanup runs periodic cleanup of aged-out entries
func (m *Manager) startCleanup() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Cleanup(); err != nil {
				m.logger.Error("Cache cleanup failed", zap.Error(err))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Cleanup removes entries that are past their TTL plus the stale window
func (m *Manager) Cleanup() error {
	now := m.now()
	cleanupCount := 0
	totalSizeReduced := 0

	err := m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CacheBucket))
		cursor := bucket.Cursor()

		var keysToDelete [][]byte
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			var record Record
			if err := record.UnmarshalBinary(value); err != nil {
				m.logger.Warn("Failed to unmarshal cache record during cleanup",
					zap.String("key", string(key)), zap.Error(err))
				keysToDelete = append(keysToDelete, append([]byte(nil), key...))
				continue
			}
			if now.Sub(record.ExpiresAt) > m.maxStale {
				keysToDelete = append(keysToDelete, append([]byte(nil), key...))
				cleanupCount++
				totalSizeReduced += record.Size
			}
		}

		for _, key := range keysToDelete {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("delete expired key: %w", err)
			}
		}

		m.count(func(s *Stats) {
			s.CleanupCount += cleanupCount
			s.TotalEntries -= cleanupCount
			s.TotalSizeBytes -= totalSizeReduced
		})
		return m.saveStats(tx)
	})
	if err != nil {
		return err
	}

	if cleanupCount > 0 {
		m.logger.Info("Cache cleanup completed",
			zap.Int("expired_entries", cleanupCount),
			zap.Int("size_reduced_bytes", totalSizeReduced))
	}
	return nil
}

// loadStats loads cache statistics from database
func (m *Manager) loadStats() error {
	return m.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(CacheStatsBucket)).Get([]byte("stats"))
		if data == nil {
			return nil
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.stats.UnmarshalBinary(data)
	})
}

// saveStats saves cache statistics to database
func (m *Manager) saveStats(tx *bbolt.Tx) error {
	m.mu.Lock()
	data, err := m.stats.MarshalBinary()
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return tx.Bucket([]byte(CacheStatsBucket)).Put([]byte("stats"), data)
}

// Close stops the cleanup loop and closes the database if Open created it
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		if m.ownsDB {
			err = m.db.Close()
		}
	})
	return err
}
