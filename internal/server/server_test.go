package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/depthsim/internal/book"
	"github.com/Aidin1998/depthsim/internal/config"
	"github.com/Aidin1998/depthsim/internal/events"
	"github.com/Aidin1998/depthsim/pkg/models"
)

// fakeConns records calls so handler wiring can be asserted without venues.
type fakeConns struct {
	connected    []string
	disconnected []string
	subscribed   [][2]string
	unsubscribed [][2]string
	err          error
}

func (f *fakeConns) Connect(venue string) error {
	f.connected = append(f.connected, venue)
	return f.err
}

func (f *fakeConns) Disconnect(venue string) error {
	f.disconnected = append(f.disconnected, venue)
	return f.err
}

func (f *fakeConns) Subscribe(venue, symbol string) error {
	f.subscribed = append(f.subscribed, [2]string{venue, symbol})
	return f.err
}

func (f *fakeConns) Unsubscribe(venue, symbol string) error {
	f.unsubscribed = append(f.unsubscribed, [2]string{venue, symbol})
	return f.err
}

func (f *fakeConns) States() map[string]models.ConnState {
	return map[string]models.ConnState{"bybit": models.ConnConnected}
}

func (f *fakeConns) Subscriptions(string) ([]string, error) {
	return []string{"BTC-USD"}, nil
}

func newTestServer(t *testing.T, conns Connections) (*Server, *book.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := book.NewEngine(20, zaptest.NewLogger(t))
	srv := New(config.ServerConfig{}, engine, conns, events.NewLog(64), zaptest.NewLogger(t))
	return srv, engine
}

func seedBook(t *testing.T, engine *book.Engine) {
	t.Helper()
	key := book.Key{Venue: "bybit", Symbol: "BTC-USD"}
	err := engine.ApplySnapshot(key,
		[]models.PriceLevel{{Price: decimal.RequireFromString("100"), Quantity: decimal.RequireFromString("2")}},
		[]models.PriceLevel{{Price: decimal.RequireFromString("101"), Quantity: decimal.RequireFromString("3")}},
		1, time.Now())
	require.NoError(t, err)
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv.Router(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetBook(t *testing.T) {
	srv, engine := newTestServer(t, nil)
	seedBook(t, engine)
	router := srv.Router()

	rec := doRequest(router, http.MethodGet, "/api/v1/books/bybit/BTC-USD", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Book    models.BookView    `json:"book"`
		Metrics models.BookMetrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bybit", resp.Book.Venue)
	assert.True(t, resp.Book.BestBid.Equal(decimal.RequireFromString("100")))
	assert.True(t, resp.Metrics.TotalBidVolume.Equal(decimal.RequireFromString("2")))

	rec = doRequest(router, http.MethodGet, "/api/v1/books/bybit/ETH-USD", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListBooks(t *testing.T) {
	srv, engine := newTestServer(t, nil)
	seedBook(t, engine)

	rec := doRequest(srv.Router(), http.MethodGet, "/api/v1/books", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BTC-USD")
}

func TestVenuesWithAndWithoutConnections(t *testing.T) {
	srv, _ := newTestServer(t, &fakeConns{})
	rec := doRequest(srv.Router(), http.MethodGet, "/api/v1/venues", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bybit")
	assert.Contains(t, rec.Body.String(), "connected")

	demoSrv, _ := newTestServer(t, nil)
	rec = doRequest(demoSrv.Router(), http.MethodGet, "/api/v1/venues", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "demo")
}

func TestSimulateEndpoint(t *testing.T) {
	srv, engine := newTestServer(t, nil)
	seedBook(t, engine)
	router := srv.Router()

	body := `{"venue":"bybit","symbol":"BTC-USD","order":{"side":"buy","type":"market","quantity":"2"}}`
	rec := doRequest(router, http.MethodPost, "/api/v1/simulate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Result models.ImpactResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Result.FillPercentage.Equal(decimal.RequireFromString("100")))
	assert.True(t, resp.Result.AverageFillPrice.Equal(decimal.RequireFromString("101")))
	assert.True(t, resp.Result.WouldCrossSpread)
}

func TestSimulateValidation(t *testing.T) {
	srv, engine := newTestServer(t, nil)
	seedBook(t, engine)
	router := srv.Router()

	// Unknown book.
	body := `{"venue":"bybit","symbol":"ETH-USD","order":{"side":"buy","type":"market","quantity":"1"}}`
	rec := doRequest(router, http.MethodPost, "/api/v1/simulate", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Invalid order parameters.
	body = `{"venue":"bybit","symbol":"BTC-USD","order":{"side":"buy","type":"market","quantity":"0"}}`
	rec = doRequest(router, http.MethodPost, "/api/v1/simulate", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed body.
	rec = doRequest(router, http.MethodPost, "/api/v1/simulate", `{"venue":}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionEndpoints(t *testing.T) {
	conns := &fakeConns{}
	srv, _ := newTestServer(t, conns)
	router := srv.Router()

	rec := doRequest(router, http.MethodPost, "/api/v1/subscriptions", `{"venue":"bybit","symbol":"BTC-USD"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, conns.subscribed, 1)
	assert.Equal(t, [2]string{"bybit", "BTC-USD"}, conns.subscribed[0])

	rec = doRequest(router, http.MethodDelete, "/api/v1/subscriptions", `{"venue":"bybit","symbol":"BTC-USD"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, conns.unsubscribed, 1)

	// Missing fields fail binding.
	rec = doRequest(router, http.MethodPost, "/api/v1/subscriptions", `{"venue":"bybit"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionWithoutConnectionsUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv.Router(), http.MethodPost, "/api/v1/subscriptions", `{"venue":"bybit","symbol":"BTC-USD"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVenueConnectDisconnect(t *testing.T) {
	conns := &fakeConns{}
	srv, _ := newTestServer(t, conns)
	router := srv.Router()

	rec := doRequest(router, http.MethodPost, "/api/v1/venues/bybit/connect", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"bybit"}, conns.connected)

	rec = doRequest(router, http.MethodPost, "/api/v1/venues/bybit/disconnect", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"bybit"}, conns.disconnected)
}

func TestEventsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.eventLog.Record(events.TypeState, "bybit", "connected")
	router := srv.Router()

	rec := doRequest(router, http.MethodGet, "/api/v1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "connected")

	rec = doRequest(router, http.MethodGet, "/api/v1/events?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamPushesViews(t *testing.T) {
	srv, engine := newTestServer(t, nil)
	httpSrv := httptest.NewServer(srv.Router())
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws?venue=bybit"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Keep publishing until the stream handler's subscription is in place.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(20 * time.Millisecond):
				key := book.Key{Venue: "bybit", Symbol: "BTC-USD"}
				_ = engine.ApplySnapshot(key,
					[]models.PriceLevel{{Price: decimal.RequireFromString("100"), Quantity: decimal.RequireFromString("2")}},
					[]models.PriceLevel{{Price: decimal.RequireFromString("101"), Quantity: decimal.RequireFromString("3")}},
					1, time.Now())
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var view models.BookView
	require.NoError(t, conn.ReadJSON(&view))
	assert.Equal(t, "bybit", view.Venue)
	assert.Equal(t, "BTC-USD", view.Symbol)
}
