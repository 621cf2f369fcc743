package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"CoffeeClear/internal/merkle"
	"CoffeeClear/internal/state"
)

// instrument wraps a handler with request count and latency metrics.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, err error) {
	status, code := classifyError(err)
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint, code).Inc()
	}
	s.writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// writeQueryError reports a read-path failure. Query routes only touch the
// database, so any error here is a server fault rather than a bad request.
func (s *Server) writeQueryError(w http.ResponseWriter, endpoint string, err error) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
	}
	s.log.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
	s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
}

// classifyError maps engine error kinds onto HTTP statuses. Anything not
// recognized is treated as a bad request rather than a server fault: the
// engine rejects by returning sentinel errors, it does not fail internally.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, state.ErrMarketNotFound):
		return http.StatusNotFound, "market_not_found"
	case errors.Is(err, state.ErrDealNotFound):
		return http.StatusNotFound, "deal_not_found"

	case errors.Is(err, state.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, state.ErrInvalidCounterparty):
		return http.StatusForbidden, "invalid_counterparty"

	case errors.Is(err, state.ErrSettlementInFlight):
		return http.StatusConflict, "settlement_in_flight"
	case errors.Is(err, state.ErrDealAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, state.ErrDealNotSettled):
		return http.StatusConflict, "not_settled"
	case errors.Is(err, state.ErrAlreadyDeposited):
		return http.StatusConflict, "already_deposited"
	case errors.Is(err, state.ErrCannotCancelAfterBothDeposited):
		return http.StatusConflict, "cannot_cancel"
	case errors.Is(err, state.ErrMarketPaused):
		return http.StatusConflict, "market_paused"
	case errors.Is(err, state.ErrNotYetSettleTime):
		return http.StatusConflict, "not_yet_settle_time"
	case errors.Is(err, state.ErrDeadlinePassed):
		return http.StatusConflict, "deadline_passed"
	case errors.Is(err, state.ErrOverDelivery):
		return http.StatusConflict, "over_delivery"
	case errors.Is(err, state.ErrRotationNotEffective):
		return http.StatusConflict, "rotation_not_effective"
	case errors.Is(err, state.ErrNoPendingRotation):
		return http.StatusConflict, "no_pending_rotation"

	case errors.Is(err, state.ErrOracleStale):
		return http.StatusUnprocessableEntity, "oracle_stale"
	case errors.Is(err, state.ErrPriceBandExceeded):
		return http.StatusUnprocessableEntity, "price_band_exceeded"
	case errors.Is(err, state.ErrReplayOrStale):
		return http.StatusUnprocessableEntity, "replay_or_stale"
	case errors.Is(err, state.ErrMerkleProofMissing):
		return http.StatusUnprocessableEntity, "proof_missing"
	case errors.Is(err, state.ErrMerkleProofInvalid):
		return http.StatusUnprocessableEntity, "proof_invalid"
	case errors.Is(err, state.ErrMathOverflow):
		return http.StatusUnprocessableEntity, "math_overflow"

	default:
		return http.StatusBadRequest, "invalid_request"
	}
}

// decodeBody strictly parses a JSON request body.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// resolveTS returns the caller-supplied versioned timestamp, falling back
// to wall clock for interactive operator requests.
func resolveTS(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return time.Now().Unix()
}

// parseHash decodes a 64-char hex string into a merkle hash.
func parseHash(s string) (merkle.Hash, error) {
	var h merkle.Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash length: %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
