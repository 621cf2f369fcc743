package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"CoffeeClear/internal/core"
	"CoffeeClear/internal/observability"
	"CoffeeClear/internal/state"
)

// Dispatcher drains the inbound command channel, parses each message,
// and applies it to the clearing engine. ACK/NAK policy: a message that
// cannot parse, or that the engine refuses for a domain reason, is
// ACKed — redelivery cannot fix it, and replays are caught by the
// idempotency layer or the price nonce anyway. Only transient
// conditions NAK.
type Dispatcher struct {
	engine      *core.ClearingEngine
	commandChan <-chan RawCommand
	metrics     *observability.Metrics
	log         zerolog.Logger
}

func NewDispatcher(
	engine *core.ClearingEngine,
	commandChan <-chan RawCommand,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		engine:      engine,
		commandChan: commandChan,
		metrics:     metrics,
		log:         log,
	}
}

// Run processes commands until the context is canceled or the channel
// closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-d.commandChan:
			if !ok {
				return nil
			}
			d.handle(raw)
		}
	}
}

func (d *Dispatcher) handle(raw RawCommand) {
	cmd, err := ParseRawCommand(raw)
	if err != nil {
		d.log.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable command, dropping")
		raw.AckFunc()
		return
	}

	err = d.apply(cmd)
	if d.metrics != nil {
		d.metrics.IngestToApply.WithLabelValues(cmd.CommandKind()).Observe(time.Since(raw.Timestamp).Seconds())
	}

	switch {
	case err == nil:
		raw.AckFunc()

	case errors.Is(err, state.ErrSettlementInFlight):
		// another settlement holds the deal; redelivery will succeed
		d.log.Debug().Str("subject", raw.Subject).Msg("deal busy, requesting redelivery")
		raw.NakFunc()

	default:
		d.log.Warn().Err(err).Str("subject", raw.Subject).Str("kind", cmd.CommandKind()).
			Msg("command refused")
		raw.AckFunc()
	}
}

func (d *Dispatcher) apply(cmd Command) error {
	switch c := cmd.(type) {
	case *PriceSubmission:
		return d.engine.PublishPrice(c.Publisher, c.Market, c.PricePerKg, c.Nonce, c.PublishedTS)

	case *DepositNotice:
		return d.engine.Deposit(c.Party, c.Asset, c.Amount, c.Ref, c.ObservedTS)

	case *DeliveryReport:
		proof := core.DeliveryProof{Leaf: c.Leaf, Hashes: c.Proof}
		return d.engine.VerifyAndSettlePhysical(c.Verifier, c.Deal, c.DeliveredKg, proof, c.ReportedTS)

	default:
		d.log.Error().Str("kind", cmd.CommandKind()).Msg("no handler for command kind")
		return nil
	}
}
