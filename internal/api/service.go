// Package api serves the indexed entities over HTTP and streams newly
// indexed events over WebSocket.
//
// Every handler is a read: the store is only written by the ingest path.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/lending-indexer/internal/lending"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

// Service handles read queries.
type Service struct {
	store store.Store
	wsHub *WSHub // optional
}

// NewService creates a new query service.
// Pass nil for hub if the WebSocket endpoint is not needed.
func NewService(st store.Store, hub *WSHub) *Service {
	return &Service{store: st, wsHub: hub}
}

// StreamRoutes mounts the WebSocket endpoint, if the service has a hub.
// It is kept apart from Routes so request timeouts do not apply to it.
func (s *Service) StreamRoutes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// Routes mounts the /api/v1 query endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/protocol", s.GetProtocol)

	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/daily/{day}", s.GetMarketDaily)
	r.Get("/markets/{marketID}/hourly/{hour}", s.GetMarketHourly)

	r.Get("/financials/{day}", s.GetFinancials)
	r.Get("/usage/daily/{day}", s.GetUsageDaily)
	r.Get("/usage/hourly/{hour}", s.GetUsageHourly)

	r.Get("/accounts/{accountID}", s.GetAccount)
	r.Get("/accounts/{accountID}/positions", s.GetAccountPositions)

	r.Get("/settings/{slot}", s.GetSystemSetting)
	r.Get("/debt/{period}/{start}", s.GetDebtState)
}

// --- Protocol ---

// GetProtocol handles GET /api/v1/protocol
func (s *Service) GetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := store.Load[model.LendingProtocol](r.Context(), s.store, lending.ProtocolID)
	writeEntity(w, p, err, "protocol not indexed yet")
}

// GetFinancials handles GET /api/v1/financials/{day}
func (s *Service) GetFinancials(w http.ResponseWriter, r *http.Request) {
	day, ok := intParam(w, r, "day")
	if !ok {
		return
	}
	snap, err := store.Load[model.FinancialsDailySnapshot](r.Context(), s.store, strconv.FormatInt(day, 10))
	writeEntity(w, snap, err, "snapshot not found")
}

// GetUsageDaily handles GET /api/v1/usage/daily/{day}
func (s *Service) GetUsageDaily(w http.ResponseWriter, r *http.Request) {
	day, ok := intParam(w, r, "day")
	if !ok {
		return
	}
	snap, err := store.Load[model.UsageMetricsDailySnapshot](r.Context(), s.store, strconv.FormatInt(day, 10))
	writeEntity(w, snap, err, "snapshot not found")
}

// GetUsageHourly handles GET /api/v1/usage/hourly/{hour}
func (s *Service) GetUsageHourly(w http.ResponseWriter, r *http.Request) {
	hour, ok := intParam(w, r, "hour")
	if !ok {
		return
	}
	snap, err := store.Load[model.UsageMetricsHourlySnapshot](r.Context(), s.store, strconv.FormatInt(hour, 10))
	writeEntity(w, snap, err, "snapshot not found")
}

// --- Markets ---

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?active=true|false.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := store.All[model.Market](r.Context(), s.store)
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}

	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, "active must be true or false", http.StatusBadRequest)
			return
		}
		filtered := []model.Market{}
		for _, m := range markets {
			if m.IsActive == active {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	writeJSON(w, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := store.Load[model.Market](r.Context(), s.store, idParam(r, "marketID"))
	writeEntity(w, m, err, "market not found")
}

// GetMarketDaily handles GET /api/v1/markets/{marketID}/daily/{day}
func (s *Service) GetMarketDaily(w http.ResponseWriter, r *http.Request) {
	day, ok := intParam(w, r, "day")
	if !ok {
		return
	}
	id := idParam(r, "marketID") + "-" + strconv.FormatInt(day, 10)
	snap, err := store.Load[model.MarketDailySnapshot](r.Context(), s.store, id)
	writeEntity(w, snap, err, "snapshot not found")
}

// GetMarketHourly handles GET /api/v1/markets/{marketID}/hourly/{hour}
func (s *Service) GetMarketHourly(w http.ResponseWriter, r *http.Request) {
	hour, ok := intParam(w, r, "hour")
	if !ok {
		return
	}
	id := idParam(r, "marketID") + "-" + strconv.FormatInt(hour, 10)
	snap, err := store.Load[model.MarketHourlySnapshot](r.Context(), s.store, id)
	writeEntity(w, snap, err, "snapshot not found")
}

// --- Accounts ---

// GetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := store.Load[model.Account](r.Context(), s.store, idParam(r, "accountID"))
	writeEntity(w, acct, err, "account not found")
}

// GetAccountPositions handles GET /api/v1/accounts/{accountID}/positions
// Returns the account's positions, open ones first, optionally filtered
// by ?open=true.
func (s *Service) GetAccountPositions(w http.ResponseWriter, r *http.Request) {
	acct := idParam(r, "accountID")
	all, err := store.All[model.Position](r.Context(), s.store)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	openOnly := r.URL.Query().Get("open") == "true"

	positions := []model.Position{}
	for _, p := range all {
		if p.Account != acct || (openOnly && !p.IsOpen()) {
			continue
		}
		positions = append(positions, p)
	}
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].IsOpen() && !positions[j].IsOpen()
	})
	writeJSON(w, positions)
}

// --- Synthetix ---

// GetSystemSetting handles GET /api/v1/settings/{slot}
func (s *Service) GetSystemSetting(w http.ResponseWriter, r *http.Request) {
	slot, ok := intParam(w, r, "slot")
	if !ok {
		return
	}
	row, err := store.Load[model.SystemSetting](r.Context(), s.store, strconv.FormatInt(slot, 10))
	writeEntity(w, row, err, "no settings for slot")
}

// GetDebtState handles GET /api/v1/debt/{period}/{start}
func (s *Service) GetDebtState(w http.ResponseWriter, r *http.Request) {
	period, ok := intParam(w, r, "period")
	if !ok {
		return
	}
	start, ok := intParam(w, r, "start")
	if !ok {
		return
	}
	id := strconv.FormatInt(period, 10) + "-" + strconv.FormatInt(start, 10)
	row, err := store.Load[model.DebtState](r.Context(), s.store, id)
	writeEntity(w, row, err, "no debt state for period")
}

// --- Helpers ---

// idParam returns an address-like URL parameter in the store's lowercase
// form.
func idParam(r *http.Request, name string) string {
	return strings.ToLower(chi.URLParam(r, name))
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v < 0 {
		writeError(w, name+" must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func writeEntity(w http.ResponseWriter, v any, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, notFound, http.StatusNotFound)
	case err != nil:
		writeError(w, "store error", http.StatusInternalServerError)
	default:
		writeJSON(w, v)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
