package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/clearing"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRunner struct {
	markets []string
	err     error
}

func (f *fakeRunner) ResolveDueCycles(context.Context) (clearing.TickSummary, error) {
	return clearing.TickSummary{Due: 2, Resolved: 2, TransactionsCompleted: 3}, f.err
}

func (f *fakeRunner) ResolveMarket(_ context.Context, marketID string) (clearing.Result, error) {
	f.markets = append(f.markets, marketID)
	return clearing.Result{MarketID: marketID, CycleID: marketID + "-c1", TransactionsCompleted: 1}, f.err
}

type fakeLimiter struct{ left int }

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	f.left--
	return f.left >= 0, nil
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, runner *fakeRunner, cfg Config, limiter domain.RateLimiter) (*memory.Store, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	st.PutMarket(domain.Market{ID: "m1", Name: "Harbor", TaxRate: 0.1, CreatedAt: t0})
	st.PutCycle(domain.AuctionCycle{ID: "c1", MarketID: "m1", CycleNumber: 1, Status: domain.CycleOpen, StartedAt: t0})

	srv := NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler(map[string]handler.Pinger{"postgres": nil}, logger),
		Status:  handler.NewStatusHandler("server", t0, nil),
		Markets: handler.NewMarketHandler(st.Markets(), st.Transactions(), st.Prices(), logger),
		Cycles:  handler.NewCycleHandler(runner, st.Markets(), st.Cycles(), logger),
		Audit:   handler.NewAuditHandler(st.Audit(), logger),
		Archive: handler.NewArchiveHandler(nil, logger),
	}, nil, limiter, logger)
	return st, srv.Handler()
}

func do(h http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, &fakeRunner{}, Config{APIKey: "secret"}, nil)

	rec := do(h, http.MethodGet, "/api/health", "")
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "ok", decode(t, rec)["status"])

	rec = do(h, http.MethodGet, "/api/markets", "")
	check.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(h, http.MethodGet, "/api/markets", "secret")
	check.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthDegraded(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hh := handler.NewHealthHandler(map[string]handler.Pinger{"redis": downPinger{}}, logger)
	rec := httptest.NewRecorder()
	hh.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	check.Equal(t, http.StatusServiceUnavailable, rec.Code)
	check.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestResolveMarket(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{}
	_, h := newTestServer(t, runner, Config{}, nil)

	rec := do(h, http.MethodPost, "/api/markets/m1/resolve", "")
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, []string{"m1"}, runner.markets)
	check.Equal(t, "m1-c1", decode(t, rec)["cycle_id"])

	rec = do(h, http.MethodPost, "/api/markets/nope/resolve", "")
	check.Equal(t, http.StatusNotFound, rec.Code)
	check.Equal(t, 1, len(runner.markets))
}

func TestResolveDue(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, &fakeRunner{}, Config{}, nil)

	rec := do(h, http.MethodPost, "/api/cycles/resolve", "")
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal[any](t, float64(3), decode(t, rec)["transactions_completed"])

	_, h = newTestServer(t, &fakeRunner{err: errors.New("db down")}, Config{}, nil)
	rec = do(h, http.MethodPost, "/api/cycles/resolve", "")
	check.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResolveRateLimited(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, &fakeRunner{}, Config{ResolveLimit: 1, ResolveWindow: time.Minute}, &fakeLimiter{left: 1})

	check.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/cycles/resolve", "").Code)
	check.Equal(t, http.StatusTooManyRequests, do(h, http.MethodPost, "/api/cycles/resolve", "").Code)
	// Reads are not limited.
	check.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/markets/m1", "").Code)
}

func TestListCycles(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, &fakeRunner{}, Config{}, nil)

	rec := do(h, http.MethodGet, "/api/markets/m1/cycles?limit=10", "")
	check.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	cycles, ok := body["cycles"].([]any)
	assert.True(t, ok)
	check.Equal(t, 1, len(cycles))
	check.Equal[any](t, float64(10), body["limit"])
}

func TestListTransactionsBadRange(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, &fakeRunner{}, Config{}, nil)

	rec := do(h, http.MethodGet, "/api/markets/m1/transactions?since=yesterday", "")
	check.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/api/markets/m1/transactions?since=2026-03-01T00:00:00Z", "")
	check.Equal(t, http.StatusOK, rec.Code)
	txs, ok := decode(t, rec)["transactions"].([]any)
	assert.True(t, ok)
	check.Equal(t, 0, len(txs))
}

func TestArchiveTriggerDisabled(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, &fakeRunner{}, Config{}, nil)
	check.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodPost, "/api/archive/trigger", "").Code)
}

func TestArchiveTriggerEnqueues(t *testing.T) {
	t.Parallel()
	ch := make(chan struct{}, 1)
	ah := handler.NewArchiveHandler(ch, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		ah.Trigger(rec, httptest.NewRequest(http.MethodPost, "/api/archive/trigger", nil))
		check.Equal(t, http.StatusAccepted, rec.Code)
	}
	check.Equal(t, 1, len(ch))
}

type fakeStream struct {
	msgs       []domain.StreamMessage
	gotAfter   string
	gotCount   int
	gotStreams []string
}

func (f *fakeStream) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	f.gotStreams = append(f.gotStreams, stream)
	f.gotAfter, f.gotCount = lastID, count
	return f.msgs, nil
}

func TestTradeFeedReplay(t *testing.T) {
	t.Parallel()
	stream := &fakeStream{msgs: []domain.StreamMessage{
		{ID: "100-0", Payload: []byte(`{"transaction_id":"t1","market_id":"m1","price":120}`)},
		{ID: "101-0", Payload: []byte(`garbage`)},
	}}
	fh := handler.NewTradeFeedHandler(stream, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	fh.Replay(rec, httptest.NewRequest(http.MethodGet, "/api/trades/feed?after=99-0&count=5000", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "99-0", stream.gotAfter)
	check.Equal(t, 1000, stream.gotCount)
	check.Equal(t, []string{domain.StreamTrades}, stream.gotStreams)

	body := decode(t, rec)
	// The undecodable entry is skipped but still advances the cursor.
	check.Equal(t, "101-0", body["next"])
	trades := body["trades"].([]any)
	assert.Equal(t, 1, len(trades))
	check.Equal(t, "100-0", trades[0].(map[string]any)["id"])
}

func TestTradeFeedRejectsBadCursor(t *testing.T) {
	t.Parallel()
	fh := handler.NewTradeFeedHandler(&fakeStream{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, q := range []string{"?after=abc", "?count=0", "?count=x"} {
		rec := httptest.NewRecorder()
		fh.Replay(rec, httptest.NewRequest(http.MethodGet, "/api/trades/feed"+q, nil))
		check.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestTradeFeedNotRoutedWithoutBus(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, &fakeRunner{}, Config{}, nil)
	check.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/trades/feed", "").Code)
}

func TestAuditFilterByEvent(t *testing.T) {
	t.Parallel()
	st, h := newTestServer(t, &fakeRunner{}, Config{}, nil)
	ctx := context.Background()
	assert.NoError(t, st.Audit().Log(ctx, "cycle.resolved", map[string]any{"market_id": "m1"}))
	assert.NoError(t, st.Audit().Log(ctx, "archive.cycles", nil))

	rec := do(h, http.MethodGet, "/api/audit?event=archive.", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	entries := decode(t, rec)["entries"].([]any)
	assert.Equal(t, 1, len(entries))
	check.Equal(t, "archive.cycles", entries[0].(map[string]any)["event"])
}
