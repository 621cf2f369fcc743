package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"CoffeeClear/internal/state"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{state.ErrMarketNotFound, http.StatusNotFound, "market_not_found"},
		{state.ErrDealNotFound, http.StatusNotFound, "deal_not_found"},
		{state.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
		{state.ErrSettlementInFlight, http.StatusConflict, "settlement_in_flight"},
		{state.ErrDealAlreadySettled, http.StatusConflict, "already_settled"},
		{state.ErrOracleStale, http.StatusUnprocessableEntity, "oracle_stale"},
		{state.ErrReplayOrStale, http.StatusUnprocessableEntity, "replay_or_stale"},
		{state.ErrMerkleProofInvalid, http.StatusUnprocessableEntity, "proof_invalid"},
		{state.ErrMathOverflow, http.StatusUnprocessableEntity, "math_overflow"},
		{state.ErrZeroQty, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		status, code := classifyError(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("classifyError(%v) = (%d, %q), want (%d, %q)",
				tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestClassifyErrorWrapped(t *testing.T) {
	wrapped := fmt.Errorf("open deal: %w", state.ErrMarketPaused)
	status, code := classifyError(wrapped)
	if status != http.StatusConflict || code != "market_paused" {
		t.Errorf("got (%d, %q), want (409, market_paused)", status, code)
	}
}

func TestParseHash(t *testing.T) {
	hexStr := strings.Repeat("ab", 32)
	h, err := parseHash(hexStr)
	if err != nil {
		t.Fatalf("parseHash: %v", err)
	}
	for _, b := range h {
		if b != 0xab {
			t.Fatalf("unexpected hash bytes: %x", h)
		}
	}

	if _, err := parseHash("zz"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := parseHash("abcd"); err == nil {
		t.Error("expected error for short input")
	}
}

func TestResolveTS(t *testing.T) {
	if got := resolveTS(1700000000); got != 1700000000 {
		t.Errorf("explicit ts not preserved: %d", got)
	}
	if got := resolveTS(0); got <= 0 {
		t.Errorf("fallback ts should be wall clock, got %d", got)
	}
}

func TestDecodeBodyRejectsUnknownFields(t *testing.T) {
	var req callerRequest
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bogus": 1}`))
	if err := decodeBody(r, &req); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=x&neg=-1", nil)
	if got := queryInt(r, "limit", 100); got != 25 {
		t.Errorf("limit = %d, want 25", got)
	}
	if got := queryInt(r, "missing", 100); got != 100 {
		t.Errorf("missing default = %d, want 100", got)
	}
	if got := queryInt(r, "bad", 100); got != 100 {
		t.Errorf("bad default = %d, want 100", got)
	}
	if got := queryInt(r, "neg", 100); got != 100 {
		t.Errorf("neg default = %d, want 100", got)
	}
}
