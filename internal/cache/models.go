package cache

import (
	"encoding/json"
	"time"

	"mcphub-go/internal/contracts"
)

// Kind separates catalog pages from item details
type Kind string

const (
	KindCatalog Kind = "catalog"
	KindDetails Kind = "details"
)

// Record is one cached hub response
type Record struct {
	Key          string          `json:"key"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	Size         int             `json:"size"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	AccessCount  int             `json:"access_count"`
	LastAccessed time.Time       `json:"last_accessed"`
}

// CatalogEntry is a cached marketplace page
type CatalogEntry struct {
	Query     contracts.MarketplaceQuery  `json:"query"`
	Items     []contracts.MarketplaceItem `json:"items"`
	FetchedAt time.Time                   `json:"fetched_at"`
	Expired   bool                        `json:"-"`
}

// DetailsEntry is a cached marketplace item with its readme
type DetailsEntry struct {
	Details   contracts.MarketplaceDetails `json:"details"`
	FetchedAt time.Time                    `json:"fetched_at"`
	Expired   bool                         `json:"-"`
}

// Stats represents cache statistics
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	TotalSizeBytes int `json:"total_size_bytes"`
	HitCount       int `json:"hit_count"`
	StaleCount     int `json:"stale_count"`
	MissCount      int `json:"miss_count"`
	EvictedCount   int `json:"evicted_count"`
	CleanupCount   int `json:"cleanup_count"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Record
func (r *Record) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Record
func (r *Record) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// MarshalBinary implements encoding.BinaryMarshaler for Stats
func (s *Stats) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Stats
func (s *Stats) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// IsExpired checks if the record is past its TTL
func (r *Record) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
