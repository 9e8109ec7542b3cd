package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"marketplace/adapters/sse"
	"marketplace/events"
	"marketplace/models"
	"marketplace/models/modeltest"
	"marketplace/payments/paymentstest"
	"marketplace/settlement"
)

func init() {
	gin.SetMode(gin.TestMode)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// loopback 將發布的事件直接送回給 SSE 管理器，取代 redis stream
type loopback struct {
	ch   chan sse.PublishRequest[events.Message]
	once sync.Once
}

func newLoopback() *loopback {
	return &loopback{ch: make(chan sse.PublishRequest[events.Message], 64)}
}

func (l *loopback) Start() {}

func (l *loopback) Subscribe() <-chan sse.PublishRequest[events.Message] { return l.ch }

func (l *loopback) Close() { l.once.Do(func() { close(l.ch) }) }

func (l *loopback) Publish(req sse.PublishRequest[events.Message]) error {
	select {
	case l.ch <- req:
		return nil
	default:
		return errors.New("loopback is full")
	}
}

type testServer struct {
	server     *Server
	handler    http.Handler
	db         *gorm.DB
	clock      *fakeclock.FakeClock
	payments   *paymentstest.Fake
	privateKey ed25519.PrivateKey

	vendor  *models.Vendor
	product *models.Product
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	db := modeltest.NewDB(t)
	clk := fakeclock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	processor := paymentstest.New()
	loop := newLoopback()
	manager, err := sse.NewConnectionManager(sse.WithSubscriber[events.Message](loop))
	require.NoError(t, err)

	config := ServerConfig{
		ID:   "test",
		Auth: AuthConfig{PublicKey: publicKey},
		Settlement: SettlementConfig{
			Commission: settlement.Commission{Pct: decimal.RequireFromString("0.1")},
		},
	}
	server := newServer(config, components{
		db:          db,
		clock:       clk,
		broadcaster: events.NewStreamBroadcaster(loop),
		ledger:      events.NopLedger,
		processor:   processor,
		sseManager:  manager,
	})
	server.Start()
	t.Cleanup(server.sseManager.Done)

	vendor := modeltest.SeedVendor(t, db, nil)
	return &testServer{
		server:     server,
		handler:    server.Handler(),
		db:         db,
		clock:      clk,
		payments:   processor,
		privateKey: privateKey,
		vendor:     vendor,
		product:    modeltest.SeedProduct(t, db, vendor.ID),
	}
}

func (ts *testServer) sign(t *testing.T, claims JWT) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(ts.privateKey)
	require.NoError(t, err)
	return token
}

func (ts *testServer) vendorToken(t *testing.T) string {
	return ts.sign(t, JWT{
		Role:             models.UserRoleVendor,
		VendorID:         &ts.vendor.ID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: ts.vendor.UserID.String()},
	})
}

func (ts *testServer) buyerToken(t *testing.T, userID uuid.UUID) string {
	return ts.sign(t, JWT{
		Role:             models.UserRoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
	})
}

func (ts *testServer) adminToken(t *testing.T) string {
	return ts.sign(t, JWT{
		Role:             models.UserRoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	})
}

func (ts *testServer) liveAuction(t *testing.T) *models.Auction {
	t.Helper()
	return modeltest.LiveAuction(t, ts.db, ts.vendor.ID, ts.product.ID, 1000, ts.clock.Now(), time.Hour)
}

// do 送出請求，body 不是 nil 時以 JSON 編碼
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
