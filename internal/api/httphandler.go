package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"stockcontrol/internal/flow"
	"stockcontrol/internal/types"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

const AdminTokenHdrName = "X-Admin-Token"

type Handler struct {
	Engine  *flow.Engine
	Mapping EventMapping
	// AdminToken guards /admin routes when set.
	AdminToken string
}

func NewHandler(engine *flow.Engine, mapping EventMapping, adminToken string) *Handler {
	return &Handler{
		Engine:     engine,
		Mapping:    mapping,
		AdminToken: adminToken,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events/open", h.handleOpen)
	mux.HandleFunc("POST /events/attempt", h.handleAttempt)
	mux.HandleFunc("POST /events/commit", h.handleCommit)
	mux.HandleFunc("POST /events/close", h.handleClose)
	mux.HandleFunc("POST /events/disconnect", h.handleDisconnect)
	mux.HandleFunc("GET /display", h.handleDisplay)

	mux.HandleFunc("POST /admin/reset", h.admin(h.handleReset))
	mux.HandleFunc("POST /admin/restock", h.admin(h.handleRestock))
	mux.HandleFunc("GET /admin/status", h.admin(h.handleStatus))
	mux.HandleFunc("POST /admin/sweep", h.admin(h.handleSweep))
	mux.HandleFunc("GET /admin/stats", h.admin(h.handleStats))
	mux.HandleFunc("POST /admin/reload", h.admin(h.handleReload))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.AdminToken != "" &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get(AdminTokenHdrName)), []byte(h.AdminToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// readPayload decodes a JSON object body of at most 1 MiB.
func readPayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	defer func() {
		_ = r.Body.Close()
	}()
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return nil, false
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}

// readEvent decodes the body and maps it to a trade event, recording any reported last-seen time.
func (h *Handler) readEvent(w http.ResponseWriter, r *http.Request) (flow.TradeEvent, bool) {
	payload, ok := readPayload(w, r)
	if !ok {
		return flow.TradeEvent{}, false
	}
	ev, err := h.Mapping.Event(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return ev, false
	}
	if at, ok := h.Mapping.SeenAt(payload); ok {
		h.Engine.ReportSeen(ev.Actor, at)
	}
	return ev, true
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.readEvent(w, r)
	if !ok {
		return
	}
	if ev.Shop == "" {
		http.Error(w, "missing shop", http.StatusBadRequest)
		return
	}
	h.Engine.OnShopOpened(ev.Actor, ev.Shop)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAttempt(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.readEvent(w, r)
	if !ok {
		return
	}
	writeJSONOrLog(w, http.StatusOK, h.Engine.OnTradeAttempt(r.Context(), ev))
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.readEvent(w, r)
	if !ok {
		return
	}
	writeJSONOrLog(w, http.StatusOK, h.Engine.OnTradeCommitted(r.Context(), ev))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.readEvent(w, r)
	if !ok {
		return
	}
	h.Engine.OnShopClosed(ev.Actor)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.readEvent(w, r)
	if !ok {
		return
	}
	if err := h.Engine.OnActorDisconnected(r.Context(), ev.Actor); err != nil {
		// records stay cached and dirty; the next flush retries
		log.WithError(err).WithField("actor", ev.Actor).Warn("disconnect flush failed")
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDisplay returns one offer's pair when trade is given, else every tracked offer of the shop.
func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actor, shop, trade := q.Get("actor"), q.Get("shop"), q.Get("trade")
	if actor == "" || shop == "" {
		http.Error(w, "actor and shop are required", http.StatusBadRequest)
		return
	}
	if trade != "" {
		pair, ok := h.Engine.GetDisplayPair(actor, shop, trade)
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSONOrLog(w, http.StatusOK, pair)
		return
	}
	update, ok := h.Engine.DisplayFor(actor, shop)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSONOrLog(w, http.StatusOK, update)
}

type adminRequest struct {
	Actor string `json:"actor"`
	Shop  string `json:"shop"`
	Trade string `json:"trade"`
}

func readAdmin(w http.ResponseWriter, r *http.Request) (adminRequest, bool) {
	var req adminRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// handleReset clears an actor's uses: one trade, one shop, or everything, depending on the fields given.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	req, ok := readAdmin(w, r)
	if !ok {
		return
	}
	var err error
	switch {
	case req.Actor == "":
		http.Error(w, "missing actor", http.StatusBadRequest)
		return
	case req.Shop == "" && req.Trade != "":
		http.Error(w, "trade requires shop", http.StatusBadRequest)
		return
	case req.Shop == "":
		err = h.Engine.ResetAll(r.Context(), req.Actor)
	case req.Trade == "":
		err = h.Engine.ResetShop(r.Context(), req.Actor, req.Shop)
	default:
		err = h.Engine.ResetTrade(r.Context(), req.Actor, req.Shop, req.Trade)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	req, ok := readAdmin(w, r)
	if !ok {
		return
	}
	if req.Shop == "" {
		http.Error(w, "missing shop", http.StatusBadRequest)
		return
	}
	if err := h.Engine.Restock(r.Context(), req.Shop, req.Trade); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := h.Engine.Status(q.Get("actor"), q.Get("shop"), q.Get("trade"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONOrLog(w, http.StatusOK, status)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	res := h.Engine.Sweep()
	writeJSONOrLog(w, http.StatusOK, map[string]any{
		"actors": res.Actors,
		"pools":  res.Pools,
		"total":  res.Total(),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONOrLog(w, http.StatusOK, h.Engine.Stats())
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSONOrLog(w, http.StatusOK, map[string]any{"status": "reloaded"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrUnknownShop), errors.Is(err, types.ErrUnknownTrade), errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNotPooled):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidCatalog):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrDataStoreAccess):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func writeJSONOrLog(w http.ResponseWriter, code int, v any) {
	if err := writeJSON(w, code, v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}
