package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type recordingSender struct {
	name string
	err  error
	sent []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.sent = append(r.sent, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	t.Parallel()
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"cycle_failed", " integrity_warning "}, quiet())
	ctx := context.Background()

	assert.NoError(t, n.Notify(ctx, "cycle_failed", "a", ""))
	assert.NoError(t, n.Notify(ctx, "integrity_warning", "b", ""))
	assert.NoError(t, n.Notify(ctx, "cycle_resolved", "c", ""))
	assert.NoError(t, n.NotifyAll(ctx, "d", ""))
	check.Equal(t, []string{"a", "b", "d"}, s.sent)
}

func TestNotifyCooldown(t *testing.T) {
	t.Parallel()
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quiet()).WithCooldown(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	ctx := context.Background()

	assert.NoError(t, n.Notify(ctx, "cycle_failed", "market m1", ""))
	assert.NoError(t, n.Notify(ctx, "cycle_failed", "market m1", ""))
	assert.NoError(t, n.Notify(ctx, "cycle_failed", "market m2", ""))
	now = now.Add(2 * time.Minute)
	assert.NoError(t, n.Notify(ctx, "cycle_failed", "market m1", ""))
	check.Equal(t, []string{"market m1", "market m2", "market m1"}, s.sent)
}

func TestNotifyJoinsSenderErrors(t *testing.T) {
	t.Parallel()
	down := errors.New("down")
	bad := &recordingSender{name: "bad", err: down}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quiet())

	err := n.Notify(context.Background(), "cycle_failed", "t", "m")
	check.True(t, errors.Is(err, down))
	check.Equal(t, 1, len(good.sent))
}

func TestTelegramSend(t *testing.T) {
	t.Parallel()
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	assert.NoError(t, s.Send(context.Background(), "Cycle failed", "market m1"))
	check.Equal(t, "/bottok/sendMessage", path)
	check.Equal(t, "42", got["chat_id"])
	check.Equal(t, "*Cycle failed*\nmarket m1", got["text"])
}

func TestDiscordErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "429"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	check.Equal(t, "short", truncate("short", 10))
	out := truncate(strings.Repeat("é", 10), 9)
	check.True(t, len(out) <= 9)
	check.True(t, strings.HasSuffix(out, "…"))
}

func TestDiscordSendsEmbed(t *testing.T) {
	t.Parallel()
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	assert.NoError(t, d.Send(context.Background(), "Cycle failed", "market m1: tax lookup"))

	assert.Equal(t, 1, len(got.Embeds))
	check.Equal(t, "Cycle failed", got.Embeds[0].Title)
	check.Equal(t, "market m1: tax lookup", got.Embeds[0].Description)
	check.Equal(t, colourFailure, got.Embeds[0].Color)
	check.Equal(t, "2026-03-01T12:00:00Z", got.Embeds[0].Timestamp)
	check.Equal(t, "auctiond", got.Username)
}

func TestEmbedColour(t *testing.T) {
	t.Parallel()
	check.Equal(t, colourFailure, embedColour("Cycle FAILED"))
	check.Equal(t, colourWarning, embedColour("Ledger integrity warning"))
	check.Equal(t, colourInfo, embedColour("Cycle resolved"))
}
