// Package httpapi exposes the round engine over REST.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/liqingnz/time-ticket/internal/app"
	"github.com/liqingnz/time-ticket/internal/app/domain/round"
	"github.com/liqingnz/time-ticket/internal/app/metrics"
	banksvc "github.com/liqingnz/time-ticket/internal/app/services/bank"
	gamesvc "github.com/liqingnz/time-ticket/internal/app/services/game"
	randomsvc "github.com/liqingnz/time-ticket/internal/app/services/randomness"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app        *app.Application
	adminToken string
}

// NewHandler returns a router exposing the engine's REST API. adminToken
// gates the parameter surface; an empty token disables it.
func NewHandler(application *app.Application, adminToken string) http.Handler {
	h := &handler{app: application, adminToken: adminToken}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/round", h.currentRound).Methods(http.MethodGet)
	r.HandleFunc("/price", h.price).Methods(http.MethodGet)
	r.HandleFunc("/rounds", h.listRounds).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{number}", h.getRound).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{number}/participants", h.participants).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{number}/rewards/{address}", h.rewards).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{number}/tickets/{address}", h.tickets).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{number}/sweep", h.sweep).Methods(http.MethodPost)

	r.HandleFunc("/tickets", h.buy).Methods(http.MethodPost)
	r.HandleFunc("/tickets/free", h.buyFree).Methods(http.MethodPost)
	r.HandleFunc("/settle", h.settle).Methods(http.MethodPost)
	r.HandleFunc("/claims", h.claim).Methods(http.MethodPost)

	r.HandleFunc("/randomness/requests", h.requestRandomness).Methods(http.MethodPost)
	r.HandleFunc("/randomness/{id}", h.fulfillRandomness).Methods(http.MethodPost)

	r.HandleFunc("/params", h.getParams).Methods(http.MethodGet)
	r.HandleFunc("/params", h.patchParams).Methods(http.MethodPatch)

	return metrics.InstrumentHandler(r)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) currentRound(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Game.Snapshot(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) price(w http.ResponseWriter, r *http.Request) {
	price, err := h.app.Game.CurrentPrice(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"ticket_price": price})
}

func (h *handler) listRounds(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	rounds, err := h.app.Game.Rounds(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (h *handler) getRound(w http.ResponseWriter, r *http.Request) {
	number, ok := roundNumber(w, r)
	if !ok {
		return
	}
	rnd, err := h.app.Game.Round(r.Context(), number)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rnd)
}

func (h *handler) participants(w http.ResponseWriter, r *http.Request) {
	number, ok := roundNumber(w, r)
	if !ok {
		return
	}
	list, err := h.app.Game.Participants(r.Context(), number)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) rewards(w http.ResponseWriter, r *http.Request) {
	number, ok := roundNumber(w, r)
	if !ok {
		return
	}
	rewards, err := h.app.Game.RewardsOf(r.Context(), number, mux.Vars(r)["address"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rewards)
}

func (h *handler) tickets(w http.ResponseWriter, r *http.Request) {
	number, ok := roundNumber(w, r)
	if !ok {
		return
	}
	count, err := h.app.Game.TicketsOf(r.Context(), number, mux.Vars(r)["address"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"tickets": count})
}

func (h *handler) buy(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Buyer        string `json:"buyer"`
		Quantity     int64  `json:"quantity"`
		MaxTotalCost int64  `json:"max_total_cost"`
		Deadline     int64  `json:"deadline"`
		Payment      int64  `json:"payment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Buyer == "" {
		writeError(w, http.StatusBadRequest, errors.New("buyer is required"))
		return
	}

	rnd, err := h.app.Game.Buy(r.Context(), payload.Buyer, payload.Quantity, payload.MaxTotalCost, payload.Deadline, payload.Payment)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rnd)
}

func (h *handler) buyFree(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Buyer   string `json:"buyer"`
		Voucher string `json:"voucher"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Buyer == "" {
		writeError(w, http.StatusBadRequest, errors.New("buyer is required"))
		return
	}

	rnd, err := h.app.Game.BuyFree(r.Context(), payload.Buyer, payload.Voucher)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rnd)
}

func (h *handler) settle(w http.ResponseWriter, r *http.Request) {
	rnd, err := h.app.Game.Settle(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rnd)
}

func (h *handler) claim(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Caller      string             `json:"caller"`
		RoundNumber int64              `json:"round_number"`
		Types       []round.RewardType `json:"types"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Caller == "" {
		writeError(w, http.StatusBadRequest, errors.New("caller is required"))
		return
	}

	res, err := h.app.Game.Claim(r.Context(), payload.Caller, payload.RoundNumber, payload.Types)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) sweep(w http.ResponseWriter, r *http.Request) {
	number, ok := roundNumber(w, r)
	if !ok {
		return
	}
	amount, err := h.app.Game.SweepExpired(r.Context(), number)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"swept": amount})
}

func (h *handler) requestRandomness(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RoundNumber int64 `json:"round_number"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := h.app.Randomness.Request(r.Context(), payload.RoundNumber)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handler) fulfillRandomness(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := h.app.Randomness.Fulfill(r.Context(), r.Header.Get("X-Coordinator-Token"), mux.Vars(r)["id"], payload.Value)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) getParams(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeAdmin(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, paramsView(h.app.Game.Params()))
}

// patchParams applies a partial parameter update: absent fields keep their
// current values, the merged result is validated as a whole.
func (h *handler) patchParams(w http.ResponseWriter, r *http.Request) {
	if !h.authorizeAdmin(w, r) {
		return
	}

	var payload paramsPatch
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	next := h.app.Game.Params()
	if err := payload.apply(&next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Game.SetParams(next); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, paramsView(h.app.Game.Params()))
}

func (h *handler) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminToken == "" {
		writeError(w, http.StatusForbidden, errors.New("admin surface disabled"))
		return false
	}
	token := r.Header.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		writeError(w, http.StatusUnauthorized, errors.New("invalid admin token"))
		return false
	}
	return true
}

func roundNumber(w http.ResponseWriter, r *http.Request) (int64, bool) {
	number, err := strconv.ParseInt(mux.Vars(r)["number"], 10, 64)
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, errors.New("round number must be a positive integer"))
		return 0, false
	}
	return number, true
}

// statusFor maps service sentinels onto HTTP statuses so callers can tell
// retry-later conditions from permanent rejections.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gamesvc.ErrUnknownRound),
		errors.Is(err, randomsvc.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, gamesvc.ErrInvalidQuantity),
		errors.Is(err, gamesvc.ErrDeadlineExceeded),
		errors.Is(err, gamesvc.ErrPriceSlippage),
		errors.Is(err, gamesvc.ErrInsufficientPayment),
		errors.Is(err, gamesvc.ErrNothingToClaim),
		errors.Is(err, gamesvc.ErrInvalidParams),
		errors.Is(err, randomsvc.ErrBadValue),
		errors.Is(err, banksvc.ErrInvalidAmount),
		errors.Is(err, banksvc.ErrUnknownAccount):
		return http.StatusBadRequest
	case errors.Is(err, banksvc.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, gamesvc.ErrBadVoucher),
		errors.Is(err, randomsvc.ErrBadCoordinator):
		return http.StatusForbidden
	case errors.Is(err, gamesvc.ErrRoundExpired):
		return http.StatusGone
	case errors.Is(err, gamesvc.ErrRoundOver),
		errors.Is(err, gamesvc.ErrRoundSettled),
		errors.Is(err, gamesvc.ErrRoundNotOver),
		errors.Is(err, gamesvc.ErrRoundNotSettled),
		errors.Is(err, gamesvc.ErrNoRandomness),
		errors.Is(err, gamesvc.ErrAlreadyClaimed),
		errors.Is(err, gamesvc.ErrNotExpired),
		errors.Is(err, gamesvc.ErrVoucherUsed),
		errors.Is(err, gamesvc.ErrRefundFailed),
		errors.Is(err, gamesvc.ErrPayoutFailed),
		errors.Is(err, banksvc.ErrAccountFrozen),
		errors.Is(err, randomsvc.ErrRequestOutstanding),
		errors.Is(err, randomsvc.ErrAlreadyFulfilled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
