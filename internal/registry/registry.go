// Package registry maps display names to owning client identities with
// reservation, claim-override and staleness expiry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jhilbert/bg/internal/ident"
	"github.com/jhilbert/bg/internal/store"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrInvalidName   = errors.New("registry: invalid player name")
	ErrMissingClient = errors.New("registry: missing client id")
	ErrNotOwner      = errors.New("registry: name is owned by another client")
)

// TakenError reports a reservation conflict. Name carries the current
// owner's canonical spelling, which may differ in case from the request.
type TakenError struct {
	Name string
}

func (e *TakenError) Error() string {
	return fmt.Sprintf("registry: name %q is taken", e.Name)
}

type Status struct {
	Name             string
	Exists           bool
	Available        bool
	OwnedByRequester bool
	Claimable        bool
}

type Reservation struct {
	Name    string
	Claimed bool
}

type Registry struct {
	names store.NameStore
	ttl   time.Duration
	log   *zap.Logger

	// serializes read-modify-write cycles; the store alone only makes
	// single operations atomic.
	mu sync.Mutex

	now func() time.Time
}

func New(names store.NameStore, ttl time.Duration, log *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{names: names, ttl: ttl, log: log, now: time.Now}
}

// readActive fetches the record for a name, treating anything older than
// the staleness window as absent and deleting it on the way.
func (r *Registry) readActive(ctx context.Context, rawName string) (name, key string, rec *store.NameRecord, err error) {
	name = ident.NormalizePlayerName(rawName)
	if name == "" {
		return "", "", nil, ErrInvalidName
	}
	key = ident.NameKey(name)
	existing, err := r.names.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return name, key, nil, nil
	}
	if err != nil {
		return "", "", nil, err
	}
	if existing.UpdatedAt.IsZero() || r.now().Sub(existing.UpdatedAt) > r.ttl {
		if err := r.names.Delete(ctx, key); err != nil {
			return "", "", nil, err
		}
		r.log.Debug("expired stale name record", zap.String("name", name))
		return name, key, nil, nil
	}
	return name, key, &existing, nil
}

// Status is the read-only availability check behind GET /names/{name}.
func (r *Registry) Status(ctx context.Context, rawName, rawClientID string) (Status, error) {
	clientID := ident.NormalizeClientID(rawClientID)
	r.mu.Lock()
	defer r.mu.Unlock()
	name, _, rec, err := r.readActive(ctx, rawName)
	if err != nil {
		return Status{}, err
	}
	if rec == nil {
		return Status{Name: name, Available: true}, nil
	}
	ownedByRequester := clientID != "" && rec.OwnerClientID == clientID
	canonical := ident.NormalizePlayerName(rec.Name)
	if canonical == "" {
		canonical = name
	}
	return Status{
		Name:             canonical,
		Exists:           true,
		Available:        ownedByRequester,
		OwnedByRequester: ownedByRequester,
		Claimable:        !ownedByRequester,
	}, nil
}

// Reserve creates the record, refreshes it when the caller already owns
// it, or transfers ownership when claim is set. A conflict returns
// *TakenError carrying the current canonical name.
func (r *Registry) Reserve(ctx context.Context, rawName, rawClientID, rawRoomID string, claim bool) (Reservation, error) {
	clientID := ident.NormalizeClientID(rawClientID)
	if clientID == "" {
		return Reservation{}, ErrMissingClient
	}
	roomID := ident.NormalizeRoomCode(rawRoomID)

	r.mu.Lock()
	defer r.mu.Unlock()
	name, key, existing, err := r.readActive(ctx, rawName)
	if err != nil {
		return Reservation{}, err
	}

	ownedByRequester := existing != nil && existing.OwnerClientID == clientID
	if existing != nil && !ownedByRequester && !claim {
		canonical := ident.NormalizePlayerName(existing.Name)
		if canonical == "" {
			canonical = name
		}
		return Reservation{}, &TakenError{Name: canonical}
	}

	now := r.now()
	claimedAt := now
	if existing != nil && ownedByRequester && !existing.ClaimedAt.IsZero() {
		claimedAt = existing.ClaimedAt
	}
	rec := store.NameRecord{
		NameKey:       key,
		Name:          name,
		OwnerClientID: clientID,
		RoomID:        roomID,
		UpdatedAt:     now,
		ClaimedAt:     claimedAt,
	}
	if err := r.names.Put(ctx, rec); err != nil {
		return Reservation{}, err
	}
	claimed := existing != nil && !ownedByRequester
	if claimed {
		r.log.Info("name claimed",
			zap.String("name", name),
			zap.String("client", clientID),
			zap.String("previousOwner", existing.OwnerClientID))
	}
	return Reservation{Name: name, Claimed: claimed}, nil
}

// Release deletes the caller's record. A missing record is a no-op
// success; a record owned by someone else is ErrNotOwner.
func (r *Registry) Release(ctx context.Context, rawName, rawClientID string) (bool, error) {
	clientID := ident.NormalizeClientID(rawClientID)
	if clientID == "" {
		return false, ErrMissingClient
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, key, existing, err := r.readActive(ctx, rawName)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if existing.OwnerClientID != clientID {
		return false, ErrNotOwner
	}
	if err := r.names.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}
