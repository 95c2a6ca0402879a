package model

import (
	"strconv"
	"strings"
	"time"
)

// PoolKind distinguishes seated showtimes from general admission events.
type PoolKind string

const (
	PoolKindShowtime PoolKind = "showtime"
	PoolKindEvent    PoolKind = "event"
)

// InventoryPool is the bookable capacity of one showtime or live event.
// Held counts the units currently in the held set; it is maintained by the
// storage layer together with the held set itself, never computed by callers.
// Pools are deactivated, never deleted.
type InventoryPool struct {
	ID        string     `json:"id"`         // inventory_pools.id
	VendorID  string     `json:"vendor_id"`  // inventory_pools.vendor_id (receives the ledger credit)
	Kind      PoolKind   `json:"kind"`       // inventory_pools.kind
	Ref       string     `json:"ref"`        // inventory_pools.ref (showtime or event id in the vendor's catalogue)
	Title     string     `json:"title"`      // inventory_pools.title
	StartsAt  *time.Time `json:"starts_at"`  // inventory_pools.starts_at (nullable)
	Currency  string     `json:"currency"`   // inventory_pools.currency
	UnitPrice int64      `json:"unit_price"` // inventory_pools.unit_price (minor units)
	Total     int        `json:"total"`      // inventory_pools.total
	Held      int        `json:"held"`       // inventory_pools.held
	Active    bool       `json:"active"`     // inventory_pools.active
	Version   int64      `json:"version"`    // inventory_pools.version
	CreatedAt time.Time  `json:"created_at"` // inventory_pools.created_at
	UpdatedAt time.Time  `json:"updated_at"` // inventory_pools.updated_at
}

// Available is total minus held; never negative for a consistent pool.
func (p InventoryPool) Available() int {
	return p.Total - p.Held
}

// HoldStatus is the lifecycle of a Hold.
type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldCommitted HoldStatus = "committed"
	HoldReleased  HoldStatus = "released"
)

// Hold reserves a set of units of a pool for a pending booking.
type Hold struct {
	ID         string     `json:"id"`          // holds.id
	PoolID     string     `json:"pool_id"`     // holds.pool_id
	BookingID  string     `json:"booking_id"`  // holds.booking_id
	Units      []string   `json:"units"`       // holds.units (json)
	Status     HoldStatus `json:"status"`      // holds.status
	ExpiresAt  time.Time  `json:"expires_at"`  // holds.expires_at
	CreatedAt  time.Time  `json:"created_at"`  // holds.created_at
	ReleasedAt *time.Time `json:"released_at"` // holds.released_at (nullable)
}

// Expired reports whether an active hold is past its expiry at now.
// Committed holds never expire.
func (h Hold) Expired(now time.Time) bool {
	return h.Status == HoldActive && !now.Before(h.ExpiresAt)
}

// PoolAvailability is the read projection served to browsing clients.
type PoolAvailability struct {
	PoolID    string   `json:"pool_id"`
	Total     int      `json:"total"`
	Held      int      `json:"held"`
	Available int      `json:"available"`
	HeldUnits []string `json:"held_units"`
	Active    bool     `json:"active"`
}

// NormalizeUnits trims, drops empties and de-duplicates unit IDs while
// keeping request order.
func NormalizeUnits(units []string) []string {
	out := make([]string, 0, len(units))
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// GenerateUnits returns the unit catalogue "1".."n" used for pools that are
// published with a capacity only.
func GenerateUnits(n int) []string {
	units := make([]string, n)
	for i := range units {
		units[i] = strconv.Itoa(i + 1)
	}
	return units
}
