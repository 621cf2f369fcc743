package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"CoffeeClear/internal/auth"
	"CoffeeClear/internal/event"
	"CoffeeClear/internal/ledger"
	"CoffeeClear/internal/observability"
	"CoffeeClear/internal/state"
)

// ShortfallPolicy decides what happens when the losing vault cannot cover
// the full PnL and insurance funds would be needed.
type ShortfallPolicy uint8

const (
	// ShortfallReject refuses the entire settlement whenever a non-zero
	// insurance draw would be required. This is the reference behavior.
	ShortfallReject ShortfallPolicy = iota

	// ShortfallDraw performs an explicit, journaled draw from the market's
	// insurance treasury, capped at the treasury balance.
	ShortfallDraw
)

// ClearingEngine is the single-writer clearing core. All operations run
// under one writer lock: sequence assignment, balance mutation, and the
// state-hash chain stay deterministic, and the per-deal settlement phase
// machine guards against a second settlement path racing in through a
// different transport.
type ClearingEngine struct {
	mu sync.Mutex

	sequence int64
	hasher   *StateHasher

	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	assets         *ledger.AssetRegistry

	markets *state.MarketManager
	deals   *state.DealManager
	certs   *state.CertAssetRegistry

	authz       auth.Authorizer
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics

	shortfall ShortfallPolicy

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

// CoreOutput pairs an event envelope with the journal batch it produced
// (nil for state-only events).
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
}

type Config struct {
	StartSequence   int64
	ShortfallPolicy ShortfallPolicy
	DedupCapacity   int
}

func NewClearingEngine(
	cfg Config,
	persistChan, publishChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	authz auth.Authorizer,
	metrics *observability.Metrics,
) *ClearingEngine {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(cfg.StartSequence, balanceTracker)

	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	return &ClearingEngine{
		sequence:       cfg.StartSequence,
		hasher:         NewStateHasher(),
		balanceTracker: balanceTracker,
		journalGen:     journalGen,
		validator:      validator,
		assets:         ledger.NewAssetRegistry(),
		markets:        state.NewMarketManager(),
		deals:          state.NewDealManager(),
		certs:          state.NewCertAssetRegistry(),
		authz:          authz,
		idempotency:    NewIdempotencyChecker(capacity, dbChecker),
		metrics:        metrics,
		shortfall:      cfg.ShortfallPolicy,
		persistChan:    persistChan,
		publishChan:    publishChan,
	}
}

// Balances exposes read access for query handlers and tests.
func (e *ClearingEngine) Balances() *ledger.BalanceTracker {
	return e.balanceTracker
}

// Markets exposes the market manager for query handlers.
func (e *ClearingEngine) Markets() *state.MarketManager {
	return e.markets
}

// Deals exposes the deal manager for query handlers.
func (e *ClearingEngine) Deals() *state.DealManager {
	return e.deals
}

// Sequence returns the next sequence the engine will assign.
func (e *ClearingEngine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// assetID resolves a symbol, registering it on first use.
func (e *ClearingEngine) assetID(symbol string) ledger.AssetID {
	return e.assets.Register(symbol)
}

// commit applies a batch (if any), extends the hash chain, and emits the
// envelope. Called with e.mu held. A batch that fails balance validation
// is a programming error, not an input error: the engine halts rather
// than continue with corrupted books.
func (e *ClearingEngine) commit(evt event.Event, batch *ledger.Batch, now int64, start time.Time) *event.EventEnvelope {
	if batch != nil {
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := e.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch: %v", err))
		}
		if err := e.validator.ValidateGlobalBalance(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}

	hashStart := time.Now()
	prevHash := e.hasher.GetPrevHash()
	stateDigest := e.computeStateDigest(batch)
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal event payload: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		MarketID:       evt.MarketID(),
		DealID:         evt.DealID(),
		Timestamp:      time.Unix(now, 0).UTC(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{Envelope: envelope, Batch: batch}

	// Persistence: blocking send — the engine stalls until the persistence
	// worker drains. No event is ever lost.
	if e.persistChan != nil {
		if e.metrics != nil && len(e.persistChan) == cap(e.persistChan) {
			e.metrics.PersistBackpressure.Inc()
		}
		e.persistChan <- output
	}

	// Outbound publishing: non-blocking send — drop on full. Consumers can
	// rebuild from the event log if they fall behind.
	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	e.sequence++
	e.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())

	if e.metrics != nil {
		op := evt.EventType().String()
		e.metrics.CoreOpsApplied.WithLabelValues(op).Inc()
		e.metrics.CoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		if batch != nil {
			for _, j := range batch.Journals {
				e.metrics.CoreJournals.WithLabelValues(fmt.Sprintf("%d", j.JournalType)).Inc()
			}
		}
		e.metrics.DedupLRUSize.Set(float64(e.idempotency.lru.Size()))
	}

	return envelope
}

// computeStateDigest creates canonical bytes for the state hash from the
// accounts a batch touched.
func (e *ClearingEngine) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := e.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, balance)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// reject records a refused operation in metrics and passes the error through.
func (e *ClearingEngine) reject(op string, err error) error {
	if e.metrics != nil {
		e.metrics.CoreOpsRejected.WithLabelValues(op, errReason(err)).Inc()
	}
	return err
}

func errReason(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
