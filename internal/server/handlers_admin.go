package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"CoffeeClear/internal/core"
	"CoffeeClear/internal/merkle"
	"CoffeeClear/internal/state"
)

type registerCertAssetRequest struct {
	Asset    string `json:"asset"`
	Decimals uint8  `json:"decimals"`
	TS       int64  `json:"ts,omitempty"`
}

func (s *Server) handleRegisterCertAsset(w http.ResponseWriter, r *http.Request) {
	var req registerCertAssetRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "register_cert_asset", err)
		return
	}

	if err := s.engine.RegisterCertAsset(req.Asset, req.Decimals, resolveTS(req.TS)); err != nil {
		s.writeError(w, "register_cert_asset", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"asset": req.Asset})
}

type depositRequest struct {
	Party  uuid.UUID `json:"party"`
	Asset  string    `json:"asset"`
	Amount uint64    `json:"amount"`
	Ref    string    `json:"ref"`
	TS     int64     `json:"ts,omitempty"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "deposit", err)
		return
	}

	if err := s.engine.Deposit(req.Party, req.Asset, req.Amount, req.Ref, resolveTS(req.TS)); err != nil {
		s.writeError(w, "deposit", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"ref": req.Ref})
}

type marketParamsRequest struct {
	SettlementTS              int64  `json:"settlement_ts"`
	ContractSizeKg            uint64 `json:"contract_size_kg"`
	InitialMarginBps          uint16 `json:"initial_margin_bps"`
	MaintenanceMarginBps      uint16 `json:"maintenance_margin_bps"`
	FeeBps                    uint16 `json:"fee_bps"`
	FarmerFeeBps              uint16 `json:"farmer_fee_bps"`
	BuyerFeeBps               uint16 `json:"buyer_fee_bps"`
	InsuranceBps              uint16 `json:"insurance_bps"`
	MaxNotionalPerDeal        uint64 `json:"max_notional_per_deal"`
	MaxQtyPerDeal             uint64 `json:"max_qty_per_deal"`
	MaxOracleAgeSec           uint64 `json:"max_oracle_age_sec"`
	TwapWindowSec             uint64 `json:"twap_window_sec"`
	MinTransferAmount         uint64 `json:"min_transfer_amount"`
	DefaultMarginCallGraceSec uint64 `json:"default_margin_call_grace_sec"`
}

type createMarketRequest struct {
	Authority       uuid.UUID           `json:"authority"`
	Verifier        uuid.UUID           `json:"verifier"`
	OraclePublisher uuid.UUID           `json:"oracle_publisher"`
	CertAsset       string              `json:"cert_asset"`
	QuoteAsset      string              `json:"quote_asset"`
	Params          marketParamsRequest `json:"params"`
	TS              int64               `json:"ts,omitempty"`
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "create_market", err)
		return
	}

	params := state.MarketParams{
		SettlementTS:              req.Params.SettlementTS,
		ContractSizeKg:            req.Params.ContractSizeKg,
		InitialMarginBps:          req.Params.InitialMarginBps,
		MaintenanceMarginBps:      req.Params.MaintenanceMarginBps,
		FeeBps:                    req.Params.FeeBps,
		FarmerFeeBps:              req.Params.FarmerFeeBps,
		BuyerFeeBps:               req.Params.BuyerFeeBps,
		InsuranceBps:              req.Params.InsuranceBps,
		MaxNotionalPerDeal:        req.Params.MaxNotionalPerDeal,
		MaxQtyPerDeal:             req.Params.MaxQtyPerDeal,
		MaxOracleAgeSec:           req.Params.MaxOracleAgeSec,
		TwapWindowSec:             req.Params.TwapWindowSec,
		MinTransferAmount:         req.Params.MinTransferAmount,
		DefaultMarginCallGraceSec: req.Params.DefaultMarginCallGraceSec,
	}

	id, err := s.engine.CreateMarket(
		req.Authority, req.Verifier, req.OraclePublisher,
		req.CertAsset, req.QuoteAsset, params, resolveTS(req.TS),
	)
	if err != nil {
		s.writeError(w, "create_market", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"market_id": id.String()})
}

type publishPriceRequest struct {
	Publisher  uuid.UUID `json:"publisher"`
	PricePerKg uint64    `json:"price_per_kg"`
	Nonce      uint64    `json:"nonce"`
	TS         int64     `json:"ts,omitempty"`
}

func (s *Server) handlePublishPrice(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		s.writeError(w, "publish_price", err)
		return
	}

	var req publishPriceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "publish_price", err)
		return
	}

	if err := s.engine.PublishPrice(req.Publisher, marketID, req.PricePerKg, req.Nonce, resolveTS(req.TS)); err != nil {
		s.writeError(w, "publish_price", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"nonce": req.Nonce})
}

type proposeRotationRequest struct {
	Caller           uuid.UUID `json:"caller"`
	NewOracle        uuid.UUID `json:"new_oracle"`
	EffectiveAfterTS int64     `json:"effective_after_ts"`
	TS               int64     `json:"ts,omitempty"`
}

func (s *Server) handleProposeRotation(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		s.writeError(w, "propose_rotation", err)
		return
	}

	var req proposeRotationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "propose_rotation", err)
		return
	}

	if err := s.engine.ProposeRotateOracle(req.Caller, marketID, req.NewOracle, req.EffectiveAfterTS, resolveTS(req.TS)); err != nil {
		s.writeError(w, "propose_rotation", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"new_oracle": req.NewOracle.String()})
}

type activateRotationRequest struct {
	TS int64 `json:"ts,omitempty"`
}

func (s *Server) handleActivateRotation(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		s.writeError(w, "activate_rotation", err)
		return
	}

	var req activateRotationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "activate_rotation", err)
		return
	}

	if err := s.engine.ActivateRotateOracle(marketID, resolveTS(req.TS)); err != nil {
		s.writeError(w, "activate_rotation", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"market_id": marketID.String()})
}

type basketEntryRequest struct {
	Asset string `json:"asset"`
	Qty   uint64 `json:"qty"`
}

type openDealRequest struct {
	Market           uuid.UUID            `json:"market"`
	Farmer           uuid.UUID            `json:"farmer"`
	Buyer            uuid.UUID            `json:"buyer"`
	AgreedPricePerKg uint64               `json:"agreed_price_per_kg"`
	QuantityKg       uint64               `json:"quantity_kg"`
	Physical         bool                 `json:"physical"`
	DeadlineTS       int64                `json:"deadline_ts"`
	Basket           []basketEntryRequest `json:"basket,omitempty"`
	MerkleRoot       string               `json:"merkle_root,omitempty"`
	Referrer         uuid.UUID            `json:"referrer,omitempty"`
	FeeSplitBps      uint16               `json:"fee_split_bps,omitempty"`
	DeferFunding     bool                 `json:"defer_funding,omitempty"`
	TS               int64                `json:"ts,omitempty"`
}

func (s *Server) handleOpenDeal(w http.ResponseWriter, r *http.Request) {
	var req openDealRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "open_deal", err)
		return
	}

	root := merkle.EmptyRoot
	if req.MerkleRoot != "" {
		var err error
		root, err = parseHash(req.MerkleRoot)
		if err != nil {
			s.writeError(w, "open_deal", err)
			return
		}
	}

	basket := make([]state.BasketEntry, 0, len(req.Basket))
	for _, b := range req.Basket {
		basket = append(basket, state.BasketEntry{Asset: b.Asset, Qty: b.Qty})
	}

	params := core.OpenDealParams{
		Market:           req.Market,
		Farmer:           req.Farmer,
		Buyer:            req.Buyer,
		AgreedPricePerKg: req.AgreedPricePerKg,
		QuantityKg:       req.QuantityKg,
		Physical:         req.Physical,
		DeadlineTS:       req.DeadlineTS,
		Basket:           basket,
		MerkleRoot:       root,
		Referrer:         req.Referrer,
		FeeSplitBps:      req.FeeSplitBps,
		DeferFunding:     req.DeferFunding,
	}

	id, err := s.engine.OpenDeal(params, resolveTS(req.TS))
	if err != nil {
		s.writeError(w, "open_deal", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"deal_id": id.String()})
}

type callerRequest struct {
	Caller uuid.UUID `json:"caller"`
	TS     int64     `json:"ts,omitempty"`
}

func (s *Server) handleDepositMargin(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(chi.URLParam(r, "dealID"))
	if err != nil {
		s.writeError(w, "deposit_margin", err)
		return
	}

	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "deposit_margin", err)
		return
	}

	if err := s.engine.DepositMargin(req.Caller, dealID, resolveTS(req.TS)); err != nil {
		s.writeError(w, "deposit_margin", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deal_id": dealID.String()})
}

type topUpRequest struct {
	Caller uuid.UUID `json:"caller"`
	Amount uint64    `json:"amount"`
	TS     int64     `json:"ts,omitempty"`
}

func (s *Server) handleTopUpMargin(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(chi.URLParam(r, "dealID"))
	if err != nil {
		s.writeError(w, "topup_margin", err)
		return
	}

	var req topUpRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "topup_margin", err)
		return
	}

	if err := s.engine.TopUpMargin(req.Caller, dealID, req.Amount, resolveTS(req.TS)); err != nil {
		s.writeError(w, "topup_margin", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deal_id": dealID.String()})
}

func (s *Server) handleCancelDeal(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(chi.URLParam(r, "dealID"))
	if err != nil {
		s.writeError(w, "cancel_deal", err)
		return
	}

	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "cancel_deal", err)
		return
	}

	if err := s.engine.CancelDeal(req.Caller, dealID, resolveTS(req.TS)); err != nil {
		s.writeError(w, "cancel_deal", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deal_id": dealID.String()})
}

type timestampRequest struct {
	TS int64 `json:"ts,omitempty"`
}

func (s *Server) handleCloseDeal(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(chi.URLParam(r, "dealID"))
	if err != nil {
		s.writeError(w, "close_deal", err)
		return
	}

	var req timestampRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "close_deal", err)
		return
	}

	if err := s.engine.CloseDeal(dealID, resolveTS(req.TS)); err != nil {
		s.writeError(w, "close_deal", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deal_id": dealID.String()})
}

type marginCallRequest struct {
	Caller   uuid.UUID `json:"caller"`
	GraceSec uint64    `json:"grace_sec"`
	TS       int64     `json:"ts,omitempty"`
}

func (s *Server) handleMarginCall(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(chi.URLParam(r, "dealID"))
	if err != nil {
		s.writeError(w, "margin_call", err)
		return
	}

	var req marginCallRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "margin_call", err)
		return
	}

	if err := s.engine.MarginCall(req.Caller, dealID, req.GraceSec, resolveTS(req.TS)); err != nil {
		s.writeError(w, "margin_call", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deal_id": dealID.String()})
}

type markResultResponse struct {
	Price       uint64 `json:"price"`
	Maintenance uint64 `json:"maintenance"`
	FarmerOK    bool   `json:"farmer_ok"`
	BuyerOK     bool   `json:"buyer_ok"`
	CallArmed   bool   `json:"call_armed"`
	Liquidated  bool   `json:"liquidated"`
}

func (s *Server) handleMarkToMarket(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(chi.URLParam(r, "dealID"))
	if err != nil {
		s.writeError(w, "mark_to_market", err)
		return
	}

	var req timestampRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "mark_to_market", err)
		return
	}

	result, err := s.engine.MarkToMarket(dealID, resolveTS(req.TS))
	if err != nil {
		s.writeError(w, "mark_to_market", err)
		return
	}
	s.writeJSON(w, http.StatusOK, markResultResponse{
		Price:       result.Price,
		Maintenance: result.Maintenance,
		FarmerOK:    result.FarmerOK,
		BuyerOK:     result.BuyerOK,
		CallArmed:   result.CallArmed,
		Liquidated:  result.Liquidated,
	})
}

func (s *Server) handleSettleCash(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(chi.URLParam(r, "dealID"))
	if err != nil {
		s.writeError(w, "settle_cash", err)
		return
	}

	var req timestampRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "settle_cash", err)
		return
	}

	if err := s.engine.SettleCash(dealID, resolveTS(req.TS)); err != nil {
		s.writeError(w, "settle_cash", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deal_id": dealID.String()})
}

type deliveryRequest struct {
	Verifier    uuid.UUID `json:"verifier"`
	DeliveredKg uint64    `json:"delivered_kg"`
	Leaf        string    `json:"leaf,omitempty"`
	Proof       []string  `json:"proof,omitempty"`
	TS          int64     `json:"ts,omitempty"`
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(chi.URLParam(r, "dealID"))
	if err != nil {
		s.writeError(w, "settle_physical", err)
		return
	}

	var req deliveryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, "settle_physical", err)
		return
	}

	var proof core.DeliveryProof
	if req.Leaf != "" {
		leaf, err := parseHash(req.Leaf)
		if err != nil {
			s.writeError(w, "settle_physical", err)
			return
		}
		proof.Leaf = &leaf
		proof.Hashes = make([]merkle.Hash, 0, len(req.Proof))
		for _, h := range req.Proof {
			parsed, err := parseHash(h)
			if err != nil {
				s.writeError(w, "settle_physical", err)
				return
			}
			proof.Hashes = append(proof.Hashes, parsed)
		}
	}

	if err := s.engine.VerifyAndSettlePhysical(req.Verifier, dealID, req.DeliveredKg, proof, resolveTS(req.TS)); err != nil {
		s.writeError(w, "settle_physical", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"deal_id":      dealID.String(),
		"delivered_kg": req.DeliveredKg,
	})
}
