package state

import (
	"sync"

	"github.com/google/uuid"
)

// MarketManager holds all Market records. Markets are mutated only by the
// single-writer core loop; the RWMutex protects concurrent reads from the
// query path.
type MarketManager struct {
	mu      sync.RWMutex
	markets map[uuid.UUID]*Market
}

func NewMarketManager() *MarketManager {
	return &MarketManager{markets: make(map[uuid.UUID]*Market)}
}

func (mm *MarketManager) Put(m *Market) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.markets[m.ID] = m
}

func (mm *MarketManager) Get(id uuid.UUID) (*Market, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	m, ok := mm.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return m, nil
}

func (mm *MarketManager) All() []*Market {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	out := make([]*Market, 0, len(mm.markets))
	for _, m := range mm.markets {
		out = append(out, m)
	}
	return out
}

// DealManager holds all Deal records and a per-deal mutex. The per-deal lock
// pairs with the settling flag so two settlement attempts cannot interleave
// even if the hosting loop is ever sharded.
type DealManager struct {
	mu    sync.RWMutex
	deals map[uuid.UUID]*dealEntry
}

type dealEntry struct {
	mu   sync.Mutex
	deal *Deal
}

func NewDealManager() *DealManager {
	return &DealManager{deals: make(map[uuid.UUID]*dealEntry)}
}

func (dm *DealManager) Put(d *Deal) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.deals[d.ID] = &dealEntry{deal: d}
}

// Acquire returns the deal with its record lock held. The caller must call
// the returned release function.
func (dm *DealManager) Acquire(id uuid.UUID) (*Deal, func(), error) {
	dm.mu.RLock()
	entry, ok := dm.deals[id]
	dm.mu.RUnlock()
	if !ok {
		return nil, nil, ErrDealNotFound
	}
	entry.mu.Lock()
	return entry.deal, entry.mu.Unlock, nil
}

// Get returns the deal without locking; for read-only query paths.
func (dm *DealManager) Get(id uuid.UUID) (*Deal, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	entry, ok := dm.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	return entry.deal, nil
}

func (dm *DealManager) All() []*Deal {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out := make([]*Deal, 0, len(dm.deals))
	for _, e := range dm.deals {
		out = append(out, e.deal)
	}
	return out
}

// CertAssetRegistry records delivery-certificate assets and their decimals.
// Registration happens once per asset; re-registering with a different
// decimals value is rejected.
type CertAssetRegistry struct {
	mu       sync.RWMutex
	decimals map[string]uint8
}

func NewCertAssetRegistry() *CertAssetRegistry {
	return &CertAssetRegistry{decimals: make(map[string]uint8)}
}

func (r *CertAssetRegistry) Register(asset string, decimals uint8) error {
	if asset == "" {
		return ErrInvalidAssetBasket
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.decimals[asset]; ok {
		if existing != decimals {
			return ErrCertDecimalsMismatch
		}
		return nil
	}
	r.decimals[asset] = decimals
	return nil
}

func (r *CertAssetRegistry) Registered(asset string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decimals[asset]
	return ok
}

func (r *CertAssetRegistry) Decimals(asset string) (uint8, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decimals[asset]
	return d, ok
}
