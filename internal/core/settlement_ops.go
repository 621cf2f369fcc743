package core

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"CoffeeClear/internal/auth"
	"CoffeeClear/internal/event"
	"CoffeeClear/internal/ledger"
	fpmath "CoffeeClear/internal/math"
	"CoffeeClear/internal/merkle"
	"CoffeeClear/internal/state"
)

// SettleCash runs the terminal cash waterfall on a deal: fee collection
// (capped at vault balances), insurance accrual (buyer vault first),
// PnL transfer from the losing vault to the winner, and residual sweeps
// above the dust threshold. Permissionless: any keeper may crank it once
// the market settlement time or the deal deadline has passed.
func (e *ClearingEngine) SettleCash(dealID uuid.UUID, now int64) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypeCashSettled.String()

	deal, release, err := e.deals.Acquire(dealID)
	if err != nil {
		return e.reject(op, err)
	}
	defer release()

	market, err := e.markets.Get(deal.MarketID)
	if err != nil {
		return e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if err := deal.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if now < market.SettlementTS && now < deal.DeadlineTS {
		return e.reject(op, state.ErrNotYetSettleTime)
	}

	if err := deal.StartSettling(); err != nil {
		return e.reject(op, err)
	}
	settled := false
	defer func() {
		if !settled {
			deal.AbortSettling()
		}
	}()

	price, err := e.effectivePrice(market)
	if err != nil {
		return e.reject(op, err)
	}

	// buyer is long: positive PnL means the farmer vault pays out
	pnlLong := fpmath.SignedMulDiff(deal.AgreedPricePerKg, price, deal.QuantityKg, fpmath.RoleLong)
	if pnlLong == nil {
		return e.reject(op, state.ErrMathOverflow)
	}

	notional := fpmath.MulWide(deal.AgreedPricePerKg, deal.QuantityKg)
	feeTotal, err := fpmath.NarrowToU64(fpmath.BpsMulWide(notional, market.FeeBps))
	if err != nil {
		return e.reject(op, err)
	}

	farmerCut, err := fpmath.BpsOfU64(feeTotal, market.FarmerFeeBps)
	if err != nil {
		return e.reject(op, err)
	}
	buyerCut, err := fpmath.BpsOfU64(feeTotal, market.BuyerFeeBps)
	if err != nil {
		return e.reject(op, err)
	}
	insuranceCut, err := fpmath.BpsOfU64(feeTotal, market.InsuranceBps)
	if err != nil {
		return e.reject(op, err)
	}
	protocolCut := feeTotal
	for _, cut := range []uint64{farmerCut, buyerCut, insuranceCut} {
		protocolCut, err = fpmath.CheckedSubU64(protocolCut, cut)
		if err != nil {
			return e.reject(op, err)
		}
	}

	quote := e.assetID(market.QuoteAsset)
	farmerVault := ledger.NewDealAccountKey(dealID, ledger.SubTypeFarmerVault, quote)
	buyerVault := ledger.NewDealAccountKey(dealID, ledger.SubTypeBuyerVault, quote)
	feeTreasury := ledger.NewSystemAccountKey(deal.MarketID, ledger.SubTypeFeeTreasury, quote)
	insTreasury := ledger.NewSystemAccountKey(deal.MarketID, ledger.SubTypeInsuranceTreasury, quote)
	farmerReceive := ledger.NewPartyAccountKey(deal.Farmer, ledger.SubTypeReceive, quote)
	buyerReceive := ledger.NewPartyAccountKey(deal.Buyer, ledger.SubTypeReceive, quote)

	fv := e.balanceTracker.GetBalance(farmerVault)
	bv := e.balanceTracker.GetBalance(buyerVault)

	var legs []ledger.Leg
	addLeg := func(from, to ledger.AccountKey, amount int64, jt ledger.JournalType) {
		if amount <= 0 {
			return
		}
		legs = append(legs, ledger.Leg{From: from, To: to, Amount: amount, Type: jt})
		switch from {
		case farmerVault:
			fv -= amount
		case buyerVault:
			bv -= amount
		}
	}
	capAt := func(want uint64, have int64) int64 {
		w, err := toLedgerAmount(want)
		if err != nil || w > have {
			if have < 0 {
				return 0
			}
			return have
		}
		return w
	}

	evt := &event.CashSettled{
		Market:      deal.MarketID,
		Deal:        dealID,
		SettlePrice: price,
		SettledTS:   now,
	}

	// fee collection: farmer tier plus the protocol remainder come out of
	// the farmer vault, the buyer tier out of the buyer vault, each capped
	farmerFee := capAt(farmerCut, fv)
	protoPlusFarmer := capAt(uint64(farmerFee)+protocolCut, fv)
	addLeg(farmerVault, feeTreasury, protoPlusFarmer, ledger.JournalTypeFee)
	evt.FarmerFee = uint64(farmerFee)
	evt.ProtocolFee = uint64(protoPlusFarmer - farmerFee)

	buyerFee := capAt(buyerCut, bv)
	addLeg(buyerVault, feeTreasury, buyerFee, ledger.JournalTypeFee)
	evt.BuyerFee = uint64(buyerFee)

	// insurance accrual: buyer vault first, farmer vault for the remainder
	insFromBuyer := capAt(insuranceCut, bv)
	addLeg(buyerVault, insTreasury, insFromBuyer, ledger.JournalTypeInsuranceAccrual)
	insFromFarmer := capAt(insuranceCut-uint64(insFromBuyer), fv)
	addLeg(farmerVault, insTreasury, insFromFarmer, ledger.JournalTypeInsuranceAccrual)
	evt.InsuranceAccr = uint64(insFromBuyer + insFromFarmer)

	// PnL: pay the winner from the loser's vault, capped at the vault
	if pnlLong.Sign() != 0 {
		pnlAbs, err := fpmath.NarrowToU64(new(big.Int).Abs(pnlLong))
		if err != nil {
			return e.reject(op, err)
		}

		loserVault, winnerReceive := farmerVault, buyerReceive
		loserBalance := fv
		if pnlLong.Sign() < 0 {
			loserVault, winnerReceive = buyerVault, farmerReceive
			loserBalance = bv
			evt.PnLToFarmer = true
		}

		pay := capAt(pnlAbs, loserBalance)
		addLeg(loserVault, winnerReceive, pay, ledger.JournalTypePnLPayout)
		evt.PnL = uint64(pay)

		if uint64(pay) < pnlAbs {
			shortfall := pnlAbs - uint64(pay)
			insBalance := e.balanceTracker.GetBalance(insTreasury)
			draw := capAt(shortfall, insBalance)

			switch e.shortfall {
			case ShortfallDraw:
				addLeg(insTreasury, winnerReceive, draw, ledger.JournalTypeInsuranceDraw)
				evt.InsuranceDraw = uint64(draw)
				if e.metrics != nil && draw > 0 {
					e.metrics.InsuranceDraws.WithLabelValues(deal.MarketID.String()).Inc()
				}
			default:
				// reference behavior: any non-zero draw aborts the settlement
				if draw > 0 {
					return e.reject(op, state.ErrUnauthorized)
				}
			}
		}
	}

	// residual sweeps, skipped at or below the dust threshold
	minTransfer, err := toLedgerAmount(market.MinTransferAmount)
	if err != nil {
		return e.reject(op, err)
	}
	if fv > minTransfer {
		evt.FarmerResidual = uint64(fv)
		addLeg(farmerVault, farmerReceive, fv, ledger.JournalTypeResidualSweep)
	}
	if bv > minTransfer {
		evt.BuyerResidual = uint64(bv)
		addLeg(buyerVault, buyerReceive, bv, ledger.JournalTypeResidualSweep)
	}

	var batch *ledger.Batch
	if len(legs) > 0 {
		batch, err = e.journalGen.GenerateBatch("settle_cash:"+dealID.String(), now, legs)
		if err != nil {
			return e.reject(op, err)
		}
	}

	deal.MarkSettled()
	settled = true
	e.commit(evt, batch, now, start)

	if e.metrics != nil {
		mid := deal.MarketID.String()
		e.metrics.DealsSettledCash.WithLabelValues(mid).Inc()
		e.metrics.FeeTreasuryBalance.WithLabelValues(mid).Set(float64(e.balanceTracker.GetBalance(feeTreasury)))
		e.metrics.InsuranceBalance.WithLabelValues(mid).Set(float64(e.balanceTracker.GetBalance(insTreasury)))
	}
	return nil
}

// DeliveryProof carries the Merkle material for one delivery tranche.
type DeliveryProof struct {
	Leaf   *merkle.Hash
	Hashes []merkle.Hash
}

// VerifyAndSettlePhysical applies one verified delivery tranche: checks
// the Merkle proof when the deal carries a root, mints delivery
// certificates when the basket includes the market's cert asset, pays
// the farmer agreed-price × delivered (capped at the buyer vault), and
// on exact completion sweeps residuals and settles the deal. Verifier
// only.
func (e *ClearingEngine) VerifyAndSettlePhysical(
	caller, dealID uuid.UUID,
	deliveredKg uint64,
	proof DeliveryProof,
	now int64,
) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	op := event.EventTypePhysicalSettled.String()

	deal, release, err := e.deals.Acquire(dealID)
	if err != nil {
		return e.reject(op, err)
	}
	defer release()

	market, err := e.markets.Get(deal.MarketID)
	if err != nil {
		return e.reject(op, err)
	}
	if err := market.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if err := deal.VersionGuard(); err != nil {
		return e.reject(op, err)
	}
	if market.Paused {
		return e.reject(op, state.ErrMarketPaused)
	}
	if len(proof.Hashes) > state.MaxProofHashes {
		return e.reject(op, state.ErrProofTooLarge)
	}
	if deal.Settled() {
		return e.reject(op, state.ErrDealAlreadySettled)
	}
	if deliveredKg == 0 {
		return e.reject(op, state.ErrZeroQty)
	}
	if err := e.authz.Authorize(caller, market.Verifier, auth.RoleVerifier); err != nil {
		return e.reject(op, err)
	}

	if deal.MerkleRoot != merkle.EmptyRoot {
		if proof.Leaf == nil {
			return e.reject(op, state.ErrMerkleProofMissing)
		}
		if !merkle.Verify(*proof.Leaf, proof.Hashes, deal.MerkleRoot) {
			return e.reject(op, state.ErrMerkleProofInvalid)
		}
	}

	newTotal, err := fpmath.CheckedAddU64(deal.DeliveredKgTotal, deliveredKg)
	if err != nil {
		return e.reject(op, err)
	}
	if newTotal > deal.QuantityKg {
		return e.reject(op, state.ErrOverDelivery)
	}

	if err := deal.StartSettling(); err != nil {
		return e.reject(op, err)
	}
	completed := false
	defer func() {
		if !completed {
			// partial tranche: return to idle so the next tranche can run
			deal.AbortSettling()
		}
	}()

	quote := e.assetID(market.QuoteAsset)
	farmerVault := ledger.NewDealAccountKey(dealID, ledger.SubTypeFarmerVault, quote)
	buyerVault := ledger.NewDealAccountKey(dealID, ledger.SubTypeBuyerVault, quote)
	farmerReceive := ledger.NewPartyAccountKey(deal.Farmer, ledger.SubTypeReceive, quote)
	buyerReceive := ledger.NewPartyAccountKey(deal.Buyer, ledger.SubTypeReceive, quote)

	evt := &event.PhysicalSettled{
		Market:      deal.MarketID,
		Deal:        dealID,
		DeliveredKg: deliveredKg,
		SettledTS:   now,
	}

	var legs []ledger.Leg

	// mint certificates 1:1 with verified kilograms when the basket
	// carries the market's cert asset
	if deal.HasCertAsset(market.CertAsset) {
		mintAmt, err := toLedgerAmount(deliveredKg)
		if err != nil {
			return e.reject(op, err)
		}
		certID := e.assetID(market.CertAsset)
		legs = append(legs, ledger.CertMintLeg(deal.Buyer, mintAmt, certID))
		evt.CertMinted = deliveredKg
	}

	// farmer payout: agreed price × delivered, capped at the buyer vault
	pay, err := fpmath.NarrowToU64(fpmath.MulWide(deal.AgreedPricePerKg, deliveredKg))
	if err != nil {
		return e.reject(op, err)
	}
	bv := e.balanceTracker.GetBalance(buyerVault)
	payAmt, err := toLedgerAmount(pay)
	if err != nil {
		return e.reject(op, err)
	}
	if payAmt > bv {
		payAmt = bv
	}
	if payAmt > 0 {
		legs = append(legs, ledger.Leg{
			From:   buyerVault,
			To:     farmerReceive,
			Amount: payAmt,
			Type:   ledger.JournalTypeDeliveryPayout,
		})
		bv -= payAmt
	}
	evt.Payout = uint64(payAmt)

	evt.DeliveredTotalKg = newTotal
	finishing := newTotal == deal.QuantityKg

	if finishing {
		minTransfer, err := toLedgerAmount(market.MinTransferAmount)
		if err != nil {
			return e.reject(op, err)
		}
		if fv := e.balanceTracker.GetBalance(farmerVault); fv > minTransfer {
			evt.FarmerResidual = uint64(fv)
			legs = append(legs, ledger.Leg{
				From: farmerVault, To: farmerReceive, Amount: fv, Type: ledger.JournalTypeResidualSweep,
			})
		}
		if bv > minTransfer {
			evt.BuyerResidual = uint64(bv)
			legs = append(legs, ledger.Leg{
				From: buyerVault, To: buyerReceive, Amount: bv, Type: ledger.JournalTypeResidualSweep,
			})
		}
	}

	var batch *ledger.Batch
	if len(legs) > 0 {
		batch, err = e.journalGen.GenerateBatch(
			fmt.Sprintf("delivery:%s:%d", dealID, newTotal), now, legs)
		if err != nil {
			return e.reject(op, err)
		}
	}

	// mutate deal state only after the batch is known-good
	deal.DeliveredKgTotal = newTotal
	if finishing {
		deal.MarkSettled()
		completed = true
		evt.Completed = true
	}

	e.commit(evt, batch, now, start)

	if e.metrics != nil {
		mid := deal.MarketID.String()
		e.metrics.DeliveriesVerified.WithLabelValues(mid).Inc()
		e.metrics.DeliveredKg.WithLabelValues(mid).Add(float64(deliveredKg))
		if evt.CertMinted > 0 {
			e.metrics.CertMintedTotal.WithLabelValues(mid).Add(float64(evt.CertMinted))
		}
	}
	return nil
}
