// Package memstore is an in-process implementation of the storage contracts
// used by the services. A single mutex serialises every operation and
// WithTx holds it for the whole callback, restoring a snapshot when the
// callback fails. It backs STORAGE=memory and the service and handler tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/boxoffice/internal/model"
)

type txKey struct{}

type refreshToken struct {
	userID    string
	expiresAt time.Time
	revokedAt *time.Time
}

type data struct {
	pools        map[string]model.InventoryPool
	poolOrder    []string
	poolUnits    map[string]map[string]bool
	held         map[string]map[string]string // pool -> unit -> hold
	holds        map[string]model.Hold
	holdOrder    []string
	bookings     map[string]model.Booking
	bookingOrder []string
	bookingByRef map[string]string
	accounts     map[string]model.LedgerAccount
	accountOwner map[string]string
	entries      map[string]model.LedgerEntry
	entryOrder   []string
	withdrawals  map[string]model.WithdrawalRequest
	withdrawOrd  []string
	events       map[string]bool
	users        map[string]model.User
	userByEmail  map[string]string
	tokens       map[string]refreshToken
}

func newData() *data {
	return &data{
		pools:        map[string]model.InventoryPool{},
		poolUnits:    map[string]map[string]bool{},
		held:         map[string]map[string]string{},
		holds:        map[string]model.Hold{},
		bookings:     map[string]model.Booking{},
		bookingByRef: map[string]string{},
		accounts:     map[string]model.LedgerAccount{},
		accountOwner: map[string]string{},
		entries:      map[string]model.LedgerEntry{},
		withdrawals:  map[string]model.WithdrawalRequest{},
		events:       map[string]bool{},
		users:        map[string]model.User{},
		userByEmail:  map[string]string{},
		tokens:       map[string]refreshToken{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSet[K comparable, V any](m map[string]map[K]V) map[string]map[K]V {
	out := make(map[string]map[K]V, len(m))
	for k, v := range m {
		out[k] = cloneMap(v)
	}
	return out
}

// clone copies every table. Stored values are replaced on update, never
// mutated in place, so copying the maps is enough.
func (d *data) clone() *data {
	return &data{
		pools:        cloneMap(d.pools),
		poolOrder:    append([]string(nil), d.poolOrder...),
		poolUnits:    cloneSet(d.poolUnits),
		held:         cloneSet(d.held),
		holds:        cloneMap(d.holds),
		holdOrder:    append([]string(nil), d.holdOrder...),
		bookings:     cloneMap(d.bookings),
		bookingOrder: append([]string(nil), d.bookingOrder...),
		bookingByRef: cloneMap(d.bookingByRef),
		accounts:     cloneMap(d.accounts),
		accountOwner: cloneMap(d.accountOwner),
		entries:      cloneMap(d.entries),
		entryOrder:   append([]string(nil), d.entryOrder...),
		withdrawals:  cloneMap(d.withdrawals),
		withdrawOrd:  append([]string(nil), d.withdrawOrd...),
		events:       cloneMap(d.events),
		users:        cloneMap(d.users),
		userByEmail:  cloneMap(d.userByEmail),
		tokens:       cloneMap(d.tokens),
	}
}

// Store implements every repository contract of the service package.
type Store struct {
	mu sync.Mutex
	d  *data
}

func New() *Store { return &Store{d: newData()} }

func (s *Store) inTx(ctx context.Context) bool {
	st, _ := ctx.Value(txKey{}).(*Store)
	return st == s
}

// WithTx runs fn with the store locked. Any error restores the state seen
// before fn started.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.d.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.d = snap
		return err
	}
	return nil
}

func (s *Store) update(ctx context.Context, fn func(d *data) error) error {
	return s.WithTx(ctx, func(context.Context) error { return fn(s.d) })
}

func (s *Store) view(ctx context.Context, fn func(d *data) error) error {
	if s.inTx(ctx) {
		return fn(s.d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.d)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Inventory

func (s *Store) CreatePool(ctx context.Context, p model.InventoryPool, units []string) error {
	return s.update(ctx, func(d *data) error {
		if _, ok := d.pools[p.ID]; ok {
			return model.ErrConflict
		}
		set := make(map[string]bool, len(units))
		for _, u := range units {
			set[u] = true
		}
		d.pools[p.ID] = p
		d.poolOrder = append(d.poolOrder, p.ID)
		d.poolUnits[p.ID] = set
		d.held[p.ID] = map[string]string{}
		return nil
	})
}

func (s *Store) GetPool(ctx context.Context, id string) (model.InventoryPool, error) {
	var p model.InventoryPool
	err := s.view(ctx, func(d *data) error {
		var ok bool
		if p, ok = d.pools[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return p, err
}

func (s *Store) ListPoolsByVendor(ctx context.Context, vendorID string) ([]model.InventoryPool, error) {
	var out []model.InventoryPool
	err := s.view(ctx, func(d *data) error {
		for i := len(d.poolOrder) - 1; i >= 0; i-- {
			if p := d.pools[d.poolOrder[i]]; p.VendorID == vendorID {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) SetPoolActive(ctx context.Context, id string, active bool, now time.Time) error {
	return s.update(ctx, func(d *data) error {
		p, ok := d.pools[id]
		if !ok {
			return model.ErrNotFound
		}
		p.Active = active
		p.Version++
		p.UpdatedAt = now
		d.pools[id] = p
		return nil
	})
}

func (s *Store) HoldUnits(ctx context.Context, h model.Hold) error {
	if len(h.Units) == 0 {
		return model.ErrInvalidUnits
	}
	return s.update(ctx, func(d *data) error {
		p, ok := d.pools[h.PoolID]
		if !ok {
			return model.ErrNotFound
		}
		if !p.Active {
			return model.ErrPoolInactive
		}
		var unknown, taken []string
		for _, u := range h.Units {
			if !d.poolUnits[p.ID][u] {
				unknown = append(unknown, u)
			} else if _, held := d.held[p.ID][u]; held {
				taken = append(taken, u)
			}
		}
		if len(unknown) > 0 {
			return &model.UnitError{Err: model.ErrUnknownUnit, Units: unknown}
		}
		if len(taken) > 0 {
			return &model.UnitError{Err: model.ErrAlreadyHeld, Units: taken}
		}
		if p.Held+len(h.Units) > p.Total {
			return model.ErrInsufficientCapacity
		}
		for _, u := range h.Units {
			d.held[p.ID][u] = h.ID
		}
		p.Held += len(h.Units)
		p.Version++
		p.UpdatedAt = h.CreatedAt
		d.pools[p.ID] = p
		h.Units = append([]string(nil), h.Units...)
		d.holds[h.ID] = h
		d.holdOrder = append(d.holdOrder, h.ID)
		return nil
	})
}

func (s *Store) GetHold(ctx context.Context, id string) (model.Hold, error) {
	var h model.Hold
	err := s.view(ctx, func(d *data) error {
		var ok bool
		if h, ok = d.holds[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return h, err
}

func (s *Store) CommitHold(ctx context.Context, id string) (bool, error) {
	var committed bool
	err := s.update(ctx, func(d *data) error {
		h, ok := d.holds[id]
		if !ok {
			return model.ErrNotFound
		}
		if h.Status != model.HoldActive {
			return nil
		}
		h.Status = model.HoldCommitted
		d.holds[id] = h
		committed = true
		return nil
	})
	return committed, err
}

func (s *Store) ReleaseHold(ctx context.Context, id string, now time.Time, onlyExpired bool) (bool, error) {
	var released bool
	err := s.update(ctx, func(d *data) error {
		h, ok := d.holds[id]
		if !ok {
			return model.ErrNotFound
		}
		if h.Status == model.HoldReleased {
			return nil
		}
		if onlyExpired && !h.Expired(now) {
			return nil
		}
		n := 0
		for u, holder := range d.held[h.PoolID] {
			if holder == id {
				delete(d.held[h.PoolID], u)
				n++
			}
		}
		p := d.pools[h.PoolID]
		if p.Held < n {
			return model.ErrConflict
		}
		p.Held -= n
		p.Version++
		p.UpdatedAt = now
		d.pools[p.ID] = p
		h.Status = model.HoldReleased
		h.ReleasedAt = &now
		d.holds[id] = h
		released = true
		return nil
	})
	return released, err
}

func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Hold, error) {
	var out []model.Hold
	err := s.view(ctx, func(d *data) error {
		for _, id := range d.holdOrder {
			if h := d.holds[id]; h.Expired(now) {
				out = append(out, h)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return page(out, limit, 0), err
}

func (s *Store) HeldUnits(ctx context.Context, poolID string) ([]string, error) {
	out := []string{}
	err := s.view(ctx, func(d *data) error {
		for u := range d.held[poolID] {
			out = append(out, u)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

// Bookings

func (s *Store) CreateBooking(ctx context.Context, b model.Booking) error {
	return s.update(ctx, func(d *data) error {
		if _, ok := d.bookings[b.ID]; ok {
			return model.ErrConflict
		}
		if _, ok := d.bookingByRef[b.GatewayRef]; ok {
			return model.ErrConflict
		}
		b.Units = append([]string(nil), b.Units...)
		d.bookings[b.ID] = b
		d.bookingOrder = append(d.bookingOrder, b.ID)
		d.bookingByRef[b.GatewayRef] = b.ID
		return nil
	})
}

func (s *Store) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	var b model.Booking
	err := s.view(ctx, func(d *data) error {
		var ok bool
		if b, ok = d.bookings[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return b, err
}

// GetBookingForUpdate is GetBooking; the store lock already serialises.
func (s *Store) GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error) {
	return s.GetBooking(ctx, id)
}

func (s *Store) GetBookingByGatewayRefForUpdate(ctx context.Context, ref string) (model.Booking, error) {
	var id string
	err := s.view(ctx, func(d *data) error {
		var ok bool
		if id, ok = d.bookingByRef[ref]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return model.Booking{}, err
	}
	return s.GetBooking(ctx, id)
}

func (s *Store) GetBookingByHoldForUpdate(ctx context.Context, holdID string) (model.Booking, error) {
	var b model.Booking
	err := s.view(ctx, func(d *data) error {
		for _, id := range d.bookingOrder {
			if bk := d.bookings[id]; bk.HoldID == holdID {
				b = bk
				return nil
			}
		}
		return model.ErrNotFound
	})
	return b, err
}

func (s *Store) UpdateBooking(ctx context.Context, b model.Booking, from model.BookingStatus) (bool, error) {
	var ok bool
	err := s.update(ctx, func(d *data) error {
		cur, found := d.bookings[b.ID]
		if !found {
			return model.ErrNotFound
		}
		if cur.Status != from {
			return nil
		}
		cur.Status = b.Status
		cur.PaymentStatus = b.PaymentStatus
		cur.Gateway = b.Gateway
		cur.CreditEntryID = b.CreditEntryID
		cur.CompletedAt = b.CompletedAt
		cur.CancelledAt = b.CancelledAt
		cur.AccessExpiresAt = b.AccessExpiresAt
		cur.UpdatedAt = b.UpdatedAt
		cur.Version++
		d.bookings[b.ID] = cur
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) listBookings(ctx context.Context, match func(model.Booking) bool, limit, offset int) ([]model.Booking, error) {
	var out []model.Booking
	err := s.view(ctx, func(d *data) error {
		for i := len(d.bookingOrder) - 1; i >= 0; i-- {
			if b := d.bookings[d.bookingOrder[i]]; match(b) {
				out = append(out, b)
			}
		}
		return nil
	})
	return page(out, limit, offset), err
}

func (s *Store) ListBookingsByUser(ctx context.Context, userID string, limit, offset int) ([]model.Booking, error) {
	return s.listBookings(ctx, func(b model.Booking) bool { return b.UserID == userID }, limit, offset)
}

func (s *Store) ListBookingsByVendor(ctx context.Context, vendorID string, limit, offset int) ([]model.Booking, error) {
	return s.listBookings(ctx, func(b model.Booking) bool { return b.VendorID == vendorID }, limit, offset)
}

func (s *Store) FindMediaGrants(ctx context.Context, userID, mediaRef string) ([]model.Booking, error) {
	return s.listBookings(ctx, func(b model.Booking) bool {
		return b.UserID == userID && b.MediaRef == mediaRef &&
			b.Kind == model.BookingKindMedia && b.Status == model.BookingCompleted
	}, 0, 0)
}

// Ledger

func (s *Store) GetOrCreateAccount(ctx context.Context, a model.LedgerAccount) (model.LedgerAccount, error) {
	var out model.LedgerAccount
	err := s.update(ctx, func(d *data) error {
		if id, ok := d.accountOwner[a.OwnerID]; ok {
			out = d.accounts[id]
			return nil
		}
		a.Version = 1
		d.accounts[a.ID] = a
		d.accountOwner[a.OwnerID] = a.ID
		out = a
		return nil
	})
	return out, err
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.LedgerAccount, error) {
	var a model.LedgerAccount
	err := s.view(ctx, func(d *data) error {
		var ok bool
		if a, ok = d.accounts[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return a, err
}

func (s *Store) GetAccountByOwner(ctx context.Context, ownerID string) (model.LedgerAccount, error) {
	var a model.LedgerAccount
	err := s.view(ctx, func(d *data) error {
		id, ok := d.accountOwner[ownerID]
		if !ok {
			return model.ErrNotFound
		}
		a = d.accounts[id]
		return nil
	})
	return a, err
}

func (s *Store) ApplyAccountDelta(ctx context.Context, id string, delta model.AccountDelta, now time.Time) error {
	return s.update(ctx, func(d *data) error {
		a, ok := d.accounts[id]
		if !ok {
			return model.ErrNotFound
		}
		next := delta.Apply(a)
		if next.Balance < 0 || next.PendingBalance < 0 || next.ProcessingBalance < 0 {
			return model.ErrInsufficientFunds
		}
		next.Version++
		next.UpdatedAt = now
		d.accounts[id] = next
		return nil
	})
}

func (s *Store) InsertEntry(ctx context.Context, e model.LedgerEntry) error {
	return s.update(ctx, func(d *data) error {
		if _, ok := d.entries[e.ID]; ok {
			return model.ErrConflict
		}
		d.entries[e.ID] = e
		d.entryOrder = append(d.entryOrder, e.ID)
		return nil
	})
}

func (s *Store) GetEntry(ctx context.Context, id string) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := s.view(ctx, func(d *data) error {
		var ok bool
		if e, ok = d.entries[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return e, err
}

func (s *Store) GetEntryForUpdate(ctx context.Context, id string) (model.LedgerEntry, error) {
	return s.GetEntry(ctx, id)
}

func (s *Store) UpdateEntryStatus(ctx context.Context, id string, from, to model.EntryStatus, reason string, now time.Time) (bool, error) {
	var ok bool
	err := s.update(ctx, func(d *data) error {
		e, found := d.entries[id]
		if !found {
			return model.ErrNotFound
		}
		if e.Status != from {
			return nil
		}
		e.Status = to
		if reason != "" {
			e.Reason = reason
		}
		e.UpdatedAt = now
		d.entries[id] = e
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) listEntries(ctx context.Context, match func(model.LedgerEntry) bool) ([]model.LedgerEntry, error) {
	out := []model.LedgerEntry{}
	err := s.view(ctx, func(d *data) error {
		for _, id := range d.entryOrder {
			if e := d.entries[id]; match(e) {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]model.LedgerEntry, error) {
	out, err := s.listEntries(ctx, func(e model.LedgerEntry) bool { return e.AccountID == accountID })
	return page(out, limit, offset), err
}

func (s *Store) ListDueEntries(ctx context.Context, now time.Time, limit int) ([]model.LedgerEntry, error) {
	out, err := s.listEntries(ctx, func(e model.LedgerEntry) bool {
		return e.Type == model.EntryPendingCredit && e.Status == model.EntryPending &&
			e.AvailableAt != nil && !now.Before(*e.AvailableAt)
	})
	return page(out, limit, 0), err
}

func (s *Store) EntriesForBooking(ctx context.Context, bookingID string) ([]model.LedgerEntry, error) {
	return s.listEntries(ctx, func(e model.LedgerEntry) bool { return e.BookingID == bookingID })
}

func (s *Store) InsertWithdrawal(ctx context.Context, w model.WithdrawalRequest) error {
	return s.update(ctx, func(d *data) error {
		if _, ok := d.withdrawals[w.ID]; ok {
			return model.ErrConflict
		}
		d.withdrawals[w.ID] = w
		d.withdrawOrd = append(d.withdrawOrd, w.ID)
		return nil
	})
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := s.view(ctx, func(d *data) error {
		var ok bool
		if w, ok = d.withdrawals[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return w, err
}

func (s *Store) GetWithdrawalForUpdate(ctx context.Context, id string) (model.WithdrawalRequest, error) {
	return s.GetWithdrawal(ctx, id)
}

func (s *Store) UpdateWithdrawal(ctx context.Context, w model.WithdrawalRequest, from model.WithdrawalStatus) (bool, error) {
	var ok bool
	err := s.update(ctx, func(d *data) error {
		cur, found := d.withdrawals[w.ID]
		if !found {
			return model.ErrNotFound
		}
		if cur.Status != from {
			return nil
		}
		cur.Status = w.Status
		cur.TransferRef = w.TransferRef
		cur.FailureReason = w.FailureReason
		cur.UpdatedAt = w.UpdatedAt
		d.withdrawals[w.ID] = cur
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) ListWithdrawals(ctx context.Context, accountID string, limit, offset int) ([]model.WithdrawalRequest, error) {
	out := []model.WithdrawalRequest{}
	err := s.view(ctx, func(d *data) error {
		for i := len(d.withdrawOrd) - 1; i >= 0; i-- {
			if w := d.withdrawals[d.withdrawOrd[i]]; w.AccountID == accountID {
				out = append(out, w)
			}
		}
		return nil
	})
	return page(out, limit, offset), err
}

func (s *Store) ListIdleWithdrawals(ctx context.Context, status model.WithdrawalStatus, before time.Time, limit int) ([]model.WithdrawalRequest, error) {
	out := []model.WithdrawalRequest{}
	err := s.view(ctx, func(d *data) error {
		for _, id := range d.withdrawOrd {
			if w := d.withdrawals[id]; w.Status == status && w.UpdatedAt.Before(before) {
				out = append(out, w)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, limit, 0), err
}

// Events

func (s *Store) MarkProcessed(ctx context.Context, gateway, eventID, reference string, at time.Time) (bool, error) {
	var fresh bool
	err := s.update(ctx, func(d *data) error {
		key := gateway + "\x00" + eventID
		if d.events[key] {
			return nil
		}
		d.events[key] = true
		fresh = true
		return nil
	})
	return fresh, err
}

// Users and tokens

func (s *Store) CreateUser(ctx context.Context, u model.User) error {
	return s.update(ctx, func(d *data) error {
		if _, ok := d.userByEmail[u.Email]; ok {
			return model.ErrEmailExists
		}
		d.users[u.ID] = u
		d.userByEmail[u.Email] = u.ID
		return nil
	})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	err := s.view(ctx, func(d *data) error {
		id, ok := d.userByEmail[email]
		if !ok {
			return model.ErrNotFound
		}
		u = d.users[id]
		return nil
	})
	return u, err
}

func (s *Store) GetUserByID(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.view(ctx, func(d *data) error {
		var ok bool
		if u, ok = d.users[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return u, err
}

func (s *Store) StoreRefresh(ctx context.Context, userID, tokenHash string, exp, now time.Time) error {
	return s.update(ctx, func(d *data) error {
		d.tokens[tokenHash] = refreshToken{userID: userID, expiresAt: exp}
		return nil
	})
}

func (s *Store) ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var userID string
	err := s.view(ctx, func(d *data) error {
		t, ok := d.tokens[tokenHash]
		if !ok || t.revokedAt != nil || now.After(t.expiresAt) {
			return model.ErrNotFound
		}
		userID = t.userID
		return nil
	})
	return userID, err
}

func (s *Store) RevokeByHash(ctx context.Context, tokenHash string, now time.Time) error {
	return s.update(ctx, func(d *data) error {
		if t, ok := d.tokens[tokenHash]; ok && t.revokedAt == nil {
			t.revokedAt = &now
			d.tokens[tokenHash] = t
		}
		return nil
	})
}

func (s *Store) RevokeAllForUser(ctx context.Context, userID string, now time.Time) error {
	return s.update(ctx, func(d *data) error {
		for h, t := range d.tokens {
			if t.userID == userID && t.revokedAt == nil {
				t.revokedAt = &now
				d.tokens[h] = t
			}
		}
		return nil
	})
}
