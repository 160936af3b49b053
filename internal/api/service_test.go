package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-indexer/internal/api"
	"github.com/atmx/lending-indexer/internal/lending"
	"github.com/atmx/lending-indexer/internal/model"
	"github.com/atmx/lending-indexer/internal/store"
)

const (
	marketID  = "0xa991356d261fbaf194463af6df8f0464f8f1c742"
	accountID = "0x1111111111111111111111111111111111111111"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a Service over a seeded in-memory store and a chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seed := []model.Entity{
		&model.LendingProtocol{ID: lending.ProtocolID, Name: lending.ProtocolName, TotalValueLockedUSD: d(1000)},
		&model.Market{ID: marketID, Name: "TrueFi USDC", IsActive: true, TotalValueLockedUSD: d(1000)},
		&model.Market{ID: "0x00000000000000000000000000000000000000aa", Name: "Closed", IsActive: false},
		&model.MarketDailySnapshot{ID: marketID + "-18993", Market: marketID},
		&model.Account{ID: accountID, DepositCount: 2},
		&model.Position{ID: accountID + "-" + marketID + "-LENDER-0", Account: accountID, Market: marketID, HashClosed: "0xabc"},
		&model.Position{ID: accountID + "-" + marketID + "-LENDER-1", Account: accountID, Market: marketID},
		&model.Position{ID: "0x22-" + marketID + "-LENDER-0", Account: "0x22", Market: marketID},
		&model.SystemSetting{ID: "1640995200", BlockNumber: 6000},
	}
	for _, e := range seed {
		if err := store.Save(ctx, ms, e); err != nil {
			t.Fatalf("seed %s: %v", e.EntityKind(), err)
		}
	}

	svc := api.NewService(ms, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return ms, r
}

func get(t *testing.T, r http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetProtocol(t *testing.T) {
	_, r := newTestEnv(t)
	w := get(t, r, "/api/v1/protocol")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var p model.LendingProtocol
	json.NewDecoder(w.Body).Decode(&p)
	if p.Name != "TrueFi" || !p.TotalValueLockedUSD.Equal(d(1000)) {
		t.Errorf("unexpected protocol: %+v", p)
	}
}

func TestListMarkets_ActiveFilter(t *testing.T) {
	_, r := newTestEnv(t)

	var all []model.Market
	json.NewDecoder(get(t, r, "/api/v1/markets").Body).Decode(&all)
	if len(all) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(all))
	}

	var active []model.Market
	json.NewDecoder(get(t, r, "/api/v1/markets?active=true").Body).Decode(&active)
	if len(active) != 1 || active[0].ID != marketID {
		t.Errorf("expected only the active market, got %+v", active)
	}

	if w := get(t, r, "/api/v1/markets?active=maybe"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetMarket_CaseInsensitive(t *testing.T) {
	_, r := newTestEnv(t)
	w := get(t, r, "/api/v1/markets/0xA991356d261fbaF194463aF6DF8f0464F8f1c742")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	_, r := newTestEnv(t)
	w := get(t, r, "/api/v1/markets/0xdead")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"] == "" {
		t.Error("expected error message")
	}
}

func TestGetMarketDaily(t *testing.T) {
	_, r := newTestEnv(t)
	if w := get(t, r, "/api/v1/markets/"+marketID+"/daily/18993"); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := get(t, r, "/api/v1/markets/"+marketID+"/daily/18994"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := get(t, r, "/api/v1/markets/"+marketID+"/daily/yesterday"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetAccountPositions(t *testing.T) {
	_, r := newTestEnv(t)

	var positions []model.Position
	json.NewDecoder(get(t, r, "/api/v1/accounts/"+accountID+"/positions").Body).Decode(&positions)
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if !positions[0].IsOpen() {
		t.Error("expected open position first")
	}

	var open []model.Position
	json.NewDecoder(get(t, r, "/api/v1/accounts/"+accountID+"/positions?open=true").Body).Decode(&open)
	if len(open) != 1 || !strings.HasSuffix(open[0].ID, "LENDER-1") {
		t.Errorf("expected only the open position, got %+v", open)
	}
}

func TestGetSystemSetting(t *testing.T) {
	_, r := newTestEnv(t)
	w := get(t, r, "/api/v1/settings/1640995200")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var s model.SystemSetting
	json.NewDecoder(w.Body).Decode(&s)
	if s.BlockNumber != 6000 {
		t.Errorf("expected block 6000, got %d", s.BlockNumber)
	}
}

func TestWSHub_BroadcastsIndexedEvents(t *testing.T) {
	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	r := chi.NewRouter()
	api.NewService(store.NewMemoryStore(), hub).StreamRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	dep := &model.Deposit{}
	dep.ID = "0xabc-1"

	// Registration is asynchronous; keep publishing until one arrives.
	var msg api.WSMessage
	for i := 0; i < 50; i++ {
		hub.Indexed(ctx, dep.EntityKind(), dep)
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, &struct {
			Type *string `json:"type"`
			Kind *string `json:"kind"`
			ID   *string `json:"id"`
		}{&msg.Type, &msg.Kind, &msg.ID}); err != nil {
			t.Fatal(err)
		}
		break
	}
	if msg.Kind != "Deposit" || msg.ID != "0xabc-1" || msg.Type != "indexed" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRoutes_NoWebSocket(t *testing.T) {
	r := chi.NewRouter()
	api.NewService(store.NewMemoryStore(), api.NewWSHub()).Routes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ws", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected /ws outside the query routes, got %d", w.Code)
	}
}
