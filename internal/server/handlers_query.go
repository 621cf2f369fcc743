package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (s *Server) handlePartyBalances(w http.ResponseWriter, r *http.Request) {
	party, err := uuid.Parse(chi.URLParam(r, "partyID"))
	if err != nil {
		s.writeError(w, "party_balances", err)
		return
	}

	resp, err := s.queries.GetPartyBalances(r.Context(), party)
	if err != nil {
		s.writeQueryError(w, "party_balances", err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJournalHistory(w http.ResponseWriter, r *http.Request) {
	party, err := uuid.Parse(chi.URLParam(r, "partyID"))
	if err != nil {
		s.writeError(w, "journal_history", err)
		return
	}

	limit := queryInt(r, "limit", 50)
	var after *int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, "journal_history", err)
			return
		}
		after = &v
	}

	entries, err := s.queries.GetJournalHistory(r.Context(), party, limit, after)
	if err != nil {
		s.writeQueryError(w, "journal_history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleTreasuryBalances(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		s.writeError(w, "treasury_balances", err)
		return
	}

	resp, err := s.queries.GetTreasuryBalances(r.Context(), marketID)
	if err != nil {
		s.writeQueryError(w, "treasury_balances", err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		s.writeError(w, "list_deals", err)
		return
	}

	limit := queryInt(r, "limit", 50)
	var status *string
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = &raw
	}

	deals, err := s.queries.ListDeals(r.Context(), marketID, status, limit)
	if err != nil {
		s.writeQueryError(w, "list_deals", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"deals": deals})
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	marketID, err := uuid.Parse(chi.URLParam(r, "marketID"))
	if err != nil {
		s.writeError(w, "price_history", err)
		return
	}

	limit := queryInt(r, "limit", 100)
	var beforeNonce *int64
	if raw := r.URL.Query().Get("before_nonce"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, "price_history", err)
			return
		}
		beforeNonce = &v
	}

	points, err := s.queries.GetPriceHistory(r.Context(), marketID, limit, beforeNonce)
	if err != nil {
		s.writeQueryError(w, "price_history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"prices": points})
}

func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	dealID, err := uuid.Parse(chi.URLParam(r, "dealID"))
	if err != nil {
		s.writeError(w, "get_deal", err)
		return
	}

	deal, err := s.queries.GetDeal(r.Context(), dealID)
	if err != nil {
		s.writeQueryError(w, "get_deal", err)
		return
	}
	if deal == nil {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "deal not found", Code: "deal_not_found"})
		return
	}
	s.writeJSON(w, http.StatusOK, deal)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	var from int64
	if raw := r.URL.Query().Get("from"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, "get_events", err)
			return
		}
		from = v
	}
	limit := queryInt(r, "limit", 100)

	events, err := s.queries.GetEvents(r.Context(), from, limit)
	if err != nil {
		s.writeQueryError(w, "get_events", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeQueryError(w, "verify_integrity", err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}
