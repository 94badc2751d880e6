package lead

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdthanh-dev/spa-web-sub001/internal/cache"
	"github.com/tdthanh-dev/spa-web-sub001/internal/metrics"
	"github.com/tdthanh-dev/spa-web-sub001/internal/rate"
)

type memoryRecorder struct {
	subs []Submission
	err  error
}

func (r *memoryRecorder) Record(_ context.Context, sub Submission) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.subs = append(r.subs, sub)
	return "lead-1", nil
}

func newTestApp(t *testing.T, scopes map[string][]rate.Window) (*fiber.App, *memoryRecorder, *miniredis.Miniredis) {
	t.Helper()

	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(srv.Close)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := rate.New(cache.New(client, time.Second), scopes, slog.Default())
	recorder := &memoryRecorder{}

	registry := prometheus.NewRegistry()
	app := fiber.New()
	RegisterRoutes(app, NewHandler(limiter, recorder, metrics.New(registry), slog.Default()))
	return app, recorder, srv
}

func submit(t *testing.T, app *fiber.App, body any) *http.Response {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads", bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func defaultScopes() map[string][]rate.Window {
	return map[string][]rate.Window{
		ScopeLead: {
			{Name: "hourly", Length: time.Hour, Max: 3},
			{Name: "daily", Length: 24 * time.Hour, Max: 10},
		},
		ScopeGlobal: {
			{Name: "minute", Length: time.Minute, Max: 100},
		},
	}
}

func TestCreateAcceptsLead(t *testing.T) {
	app, recorder, _ := newTestApp(t, defaultScopes())

	resp := submit(t, app, fiber.Map{
		"fullName": "Tran Thi B",
		"phone":    "0901234567",
		"note":     "facial appointment",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "lead-1", decode(t, resp)["id"])

	require.Len(t, recorder.subs, 1)
	assert.Equal(t, "0901234567", recorder.subs[0].Phone)
	assert.NotEmpty(t, recorder.subs[0].SourceIP)
}

func TestCreateRequiresPhone(t *testing.T) {
	app, recorder, _ := newTestApp(t, defaultScopes())

	resp := submit(t, app, fiber.Map{"fullName": "No Phone"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, recorder.subs)
}

func TestCreateDeniesAfterHourlyCap(t *testing.T) {
	app, recorder, _ := newTestApp(t, defaultScopes())

	for i := 0; i < 3; i++ {
		resp := submit(t, app, fiber.Map{"phone": "0901234567"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp := submit(t, app, fiber.Map{"phone": "0901234567"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))

	body := decode(t, resp)
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.Equal(t, "hourly", body["window"])
	assert.GreaterOrEqual(t, body["retryAfter"].(float64), float64(1))
	assert.Len(t, recorder.subs, 3)
}

func TestCreateDeniesOnGlobalBudget(t *testing.T) {
	scopes := defaultScopes()
	scopes[ScopeGlobal] = []rate.Window{{Name: "minute", Length: time.Minute, Max: 2}}
	app, _, _ := newTestApp(t, scopes)

	for i := 0; i < 2; i++ {
		resp := submit(t, app, fiber.Map{"phone": "0901234567"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp := submit(t, app, fiber.Map{"phone": "0901234567"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "minute", decode(t, resp)["window"])
}

func TestCreateAdmitsAgainAfterWindowRollover(t *testing.T) {
	app, _, srv := newTestApp(t, defaultScopes())

	for i := 0; i < 3; i++ {
		submit(t, app, fiber.Map{"phone": "0901234567"})
	}
	resp := submit(t, app, fiber.Map{"phone": "0901234567"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	srv.FastForward(time.Hour + time.Second)

	resp = submit(t, app, fiber.Map{"phone": "0901234567"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCreateFailsOpenDuringOutage(t *testing.T) {
	app, recorder, srv := newTestApp(t, defaultScopes())

	srv.Close()

	// A cache outage must not take the public intake form down with it.
	resp := submit(t, app, fiber.Map{"phone": "0901234567"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, recorder.subs, 1)
}
