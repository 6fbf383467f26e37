// Package attendee resolves chat participants. Lookups go through an
// in-memory TTL cache, then the store, and only then the gateway.
package attendee

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultTTL is how long a resolved attendee stays in memory.
const DefaultTTL = 10 * time.Minute

// Directory looks attendees up by provider id.
type Directory struct {
	db     *store.DB
	gw     gateway.Gateway
	cache  *cache.Cache
	logger *zap.Logger
}

// New creates a directory. gw may be nil, in which case only cached and
// stored attendees are visible.
func New(db *store.DB, gw gateway.Gateway, ttl time.Duration, logger *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		db:     db,
		gw:     gw,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
}

// Cached resolves an attendee by provider id without calling the gateway.
// It returns store.ErrNotFound when nothing is known locally.
func (d *Directory) Cached(ctx context.Context, providerID string) (*store.Attendee, error) {
	if providerID == "" {
		return nil, store.ErrNotFound
	}
	if v, ok := d.cache.Get(providerID); ok {
		return v.(*store.Attendee), nil
	}
	a, err := d.db.GetAttendeeByProviderID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	d.remember(a)
	return a, nil
}

// CachedByID resolves an attendee by its gateway id without calling the
// gateway.
func (d *Directory) CachedByID(ctx context.Context, id string) (*store.Attendee, error) {
	if id == "" {
		return nil, store.ErrNotFound
	}
	if v, ok := d.cache.Get("id:" + id); ok {
		return v.(*store.Attendee), nil
	}
	a, err := d.db.GetAttendee(ctx, id)
	if err != nil {
		return nil, err
	}
	d.remember(a)
	return a, nil
}

// Lookup resolves an attendee of chatID by provider id. On a local miss it
// refreshes the chat's attendees from the gateway and retries.
func (d *Directory) Lookup(ctx context.Context, chatID, providerID string) (*store.Attendee, error) {
	a, err := d.Cached(ctx, providerID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, store.ErrNotFound) || d.gw == nil {
		return nil, err
	}
	if _, err := d.SyncChat(ctx, chatID); err != nil {
		return nil, err
	}
	return d.Cached(ctx, providerID)
}

// SyncChat fetches the attendees of a chat from the gateway and stores them.
// It returns how many were stored.
func (d *Directory) SyncChat(ctx context.Context, chatID string) (int, error) {
	if d.gw == nil {
		return 0, errors.New("attendee sync: no gateway configured")
	}
	remote, err := d.gw.ListAttendees(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("list attendees for %s: %w", chatID, err)
	}
	stored := 0
	for _, ra := range remote {
		a := FromGateway(ra)
		if err := d.db.UpsertAttendee(ctx, a); err != nil {
			d.logger.Warn("failed to store attendee",
				zap.String("chat_id", chatID),
				zap.String("attendee_id", a.ID),
				zap.Error(err))
			continue
		}
		d.remember(a)
		stored++
	}
	d.logger.Debug("attendees synced", zap.String("chat_id", chatID), zap.Int("count", stored))
	return stored, nil
}

// Len returns the number of cache entries.
func (d *Directory) Len() int {
	return d.cache.ItemCount()
}

func (d *Directory) remember(a *store.Attendee) {
	d.cache.SetDefault(a.ProviderID, a)
	d.cache.SetDefault("id:"+a.ID, a)
}

// FromGateway maps a gateway attendee to its stored form.
func FromGateway(a gateway.Attendee) *store.Attendee {
	providerID := a.ProviderID
	if providerID == "" {
		providerID = a.ID
	}
	return &store.Attendee{
		ID:         a.ID,
		AccountID:  a.AccountID,
		ProviderID: providerID,
		Name:       a.Name,
		IsSelf:     int(a.IsSelf),
		Hidden:     int(a.Hidden),
		PictureURL: a.PictureURL,
		ProfileURL: a.ProfileURL,
		Specifics:  rawOrNil(a.Specifics),
	}
}

func rawOrNil(b []byte) store.RawJSON {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return store.RawJSON(b)
}
