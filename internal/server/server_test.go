package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/auctionhouse/internal/auction"
	"github.com/alanyoungcy/auctionhouse/internal/cache/memory"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
	memstore "github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

const adminKey = "admin-key"

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	hub := ws.NewHub(logger)
	policy := auction.DefaultPolicy()
	ledger := auction.NewLedger(store, store)
	sched := auction.NewScheduler(policy, store, ledger, hub, logger)
	coord := auction.NewCoordinator(policy, store, store, ledger, sched, hub, logger)
	hub.WithCatalog(coord)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = sched.Run(ctx); done <- struct{}{} }()
	go func() { _ = hub.Run(ctx); done <- struct{}{} }()

	router := NewRouter(cfg, Handlers{
		Health:   handler.NewHealthHandler(logger),
		Stats:    handler.NewStatsHandler("server", hub, sched),
		Auctions: handler.NewAuctionHandler(coord, logger),
		Bids:     handler.NewBidHandler(coord, logger),
		Events:   handler.NewEventsHandler(nil, coord, logger),
		WS:       hub.HandleWS,
	}, memory.NewRateLimiter(), logger)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		<-done
	})
	return srv
}

func request(t *testing.T, srv *httptest.Server, method, path, key string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func openAuction(t *testing.T, srv *httptest.Server) domain.Auction {
	t.Helper()
	resp := request(t, srv, http.MethodPost, "/api/auctions", adminKey, map[string]any{
		"item_id":          "item-9",
		"starting_price":   100000,
		"duration_minutes": 10,
		"min_increment":    25000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var a domain.Auction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	return a
}

func TestRouter_AdminRoutesRequireKey(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, Config{AdminAPIKey: adminKey})

	resp := request(t, srv, http.MethodPost, "/api/auctions", "", map[string]any{"item_id": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = request(t, srv, http.MethodPost, "/api/auctions", "wrong", map[string]any{"item_id": "x"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	a := openAuction(t, srv)

	resp = request(t, srv, http.MethodPost, "/api/auctions/"+a.ID+"/stop", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Public routes need no key.
	resp = request(t, srv, http.MethodGet, "/api/auctions/"+a.ID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = request(t, srv, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = request(t, srv, http.MethodPost, "/api/auctions/"+a.ID+"/bids", "", map[string]any{"user_id": "u1", "amount": 125000})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = request(t, srv, http.MethodPost, "/api/auctions/"+a.ID+"/stop", adminKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_BidRateLimit(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, Config{BidRateLimit: 2, BidRateWindow: time.Minute})
	a := openAuction(t, srv)
	path := "/api/auctions/" + a.ID + "/bids"

	resp := request(t, srv, http.MethodPost, path, "", map[string]any{"user_id": "u1", "amount": 125000})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = request(t, srv, http.MethodPost, path, "", map[string]any{"user_id": "u1", "amount": 10})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp = request(t, srv, http.MethodPost, path, "", map[string]any{"user_id": "u1", "amount": 999999})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Reads are not limited.
	resp = request(t, srv, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func readEvent(t *testing.T, conn *websocket.Conn, want domain.EventType) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var evt domain.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		if evt.Type == want {
			return evt
		}
	}
}

func TestRouter_WebSocketReceivesBids(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, Config{})
	a := openAuction(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readEvent(t, conn, domain.EventPong)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join_auction", "auction_id": a.ID, "username": "alice"}))
	joined := readEvent(t, conn, domain.EventUserJoined)
	assert.Equal(t, "alice", joined.Username)
	require.NotNil(t, joined.ParticipantsCount)
	assert.Equal(t, 1, *joined.ParticipantsCount)

	resp := request(t, srv, http.MethodPost, "/api/auctions/"+a.ID+"/bids", "", map[string]any{
		"user_id": "u2", "username": "bob", "amount": 150000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	upd := readEvent(t, conn, domain.EventBidUpdate)
	assert.Equal(t, a.ID, upd.AuctionID)
	require.NotNil(t, upd.Bid)
	assert.Equal(t, int64(150000), upd.Bid.Amount)
	assert.Equal(t, "bob", upd.Bid.Username)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errEvt := readEvent(t, conn, domain.EventError)
	assert.NotEmpty(t, errEvt.Message)
}
