package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/election"
	"taskmarket/internal/engine"
	"taskmarket/internal/ledger"
	"taskmarket/internal/migrate"
	"taskmarket/internal/repo"
)

const testSecret = "test-secret"

var (
	faucet   = domain.MustAddress("0x000000000000000000000000000000000000fa0c")
	modelOwn = domain.MustAddress("0x0000000000000000000000000000000000000a0d")
	user     = domain.MustAddress("0x0000000000000000000000000000000000000b0b")
	valA     = domain.MustAddress("0x000000000000000000000000000000000000000a")
	stranger = domain.MustAddress("0x0000000000000000000000000000000000000bad")
)

type testServer struct {
	URL    string
	client *http.Client
	eng    engine.Engine
	reg    *election.Registry
	token  ledger.Token
	clock  *time.Time
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) advance(d time.Duration) { *s.clock = s.clock.Add(d) }

// fund mints amount to addr and approves the engine to spend it.
func (s *testServer) fund(t *testing.T, addr, amount string) {
	t.Helper()
	ctx := context.Background()
	v := domain.MustAmount(amount)
	require.NoError(t, s.token.Mint(ctx, faucet, addr, v))
	allowance, err := s.token.Allowance(ctx, addr, s.eng.Address)
	require.NoError(t, err)
	require.NoError(t, s.token.Approve(ctx, addr, s.eng.Address, allowance.Add(v)))
}

func newTestServer(t *testing.T, configure func(*Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	token := ledger.Token{DB: conn}
	reg := election.New(conn, ledger.Positions{DB: conn}, 7*24*time.Hour, 3, 100)
	reg.Now = now
	e := engine.New(conn, config.Default(), token, reg)
	e.Now = now
	ctx := context.Background()
	require.NoError(t, e.Bootstrap(ctx))
	require.NoError(t, reg.Bootstrap(ctx))
	require.NoError(t, token.AddMinter(ctx, faucet))

	cfg := Config{
		Engine:   e,
		Registry: reg,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, Logger: zerolog.Nop()},
	}
	if configure != nil {
		configure(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		eng:    e,
		reg:    reg,
		token:  token,
		clock:  &clock,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, addr string) map[string]string {
	t.Helper()
	tok, err := SignToken(testSecret, addr, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func requireErrorCode(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	require.Equal(t, status, res.StatusCode, string(data))
	body := decode[apiError](t, data)
	require.Equal(t, code, body.Body.Code, string(data))
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/models", nil, nil)
	requireErrorCode(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/models", nil, map[string]string{"Authorization": "Bearer nope"})
	requireErrorCode(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	srv.fund(t, user, "10")
	srv.fund(t, valA, "10")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/models", map[string]any{
		"fee":      "0.1",
		"template": `{"model":"sdxl"}`,
	}, bearer(t, modelOwn))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	model := decode[ModelResponse](t, data)
	require.Equal(t, modelOwn, model.Owner)
	require.Equal(t, "0.1", model.Fee)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"model": model.ID,
		"fee":   "0.5",
		"input": `{"prompt":"cat"}`,
	}, bearer(t, user))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	task := decode[TaskResponse](t, data)
	require.Equal(t, user, task.Owner)
	require.Equal(t, "0.5", task.Fee)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/validators/deposit", map[string]any{
		"amount": "1",
	}, bearer(t, valA))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.True(t, decode[ValidatorResponse](t, data).Active)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commitments/generate", map[string]any{
		"task_id": task.ID,
		"cid":     "0x1220aaaa",
	}, bearer(t, valA))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	commitment := decode[CommitmentResponse](t, data)
	require.Equal(t, engine.GenerateCommitment(valA, task.ID, "0x1220aaaa"), commitment.Hash)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/commitments", map[string]any{
		"hash": commitment.Hash,
	}, bearer(t, valA))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	srv.advance(time.Second)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/solutions", map[string]any{
		"task_id": task.ID,
		"cid":     "0x1220aaaa",
	}, bearer(t, valA))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	sol := decode[SolutionResponse](t, data)
	require.Equal(t, domain.SolutionSubmitted, sol.Status)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/solutions/"+task.ID+"/claim", nil, bearer(t, user))
	requireErrorCode(t, res, data, http.StatusConflict, "conflict")

	srv.advance(2 * time.Hour)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/solutions/"+task.ID+"/claim", nil, bearer(t, user))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	sol = decode[SolutionResponse](t, data)
	require.True(t, sol.Claimed)
	require.Equal(t, domain.SolutionClaimed, sol.Status)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?model="+model.ID, nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	tasks := decode[paginatedTasks](t, data)
	require.Len(t, tasks.Items, 1)
	require.Empty(t, tasks.NextCursor)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/market/status", nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	status := decode[StatusResponse](t, data)
	require.False(t, status.Paused)
	require.Positive(t, status.Height)
	require.NoError(t, srv.eng.CheckHeld(context.Background()))
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	for _, fee := range []string{"0.1", "0.2", "0.3"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/models", map[string]any{
			"fee":      fee,
			"template": `{"fee":"` + fee + `"}`,
		}, bearer(t, modelOwn))
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	seen := map[int64]bool{}
	url := srv.URL + "/v0/events?type=model.registered&limit=2"
	res, data := doJSON(t, client, http.MethodGet, url, nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page := decode[paginatedEvents](t, data)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	for _, evt := range page.Items {
		require.Equal(t, "model.registered", evt.Type)
		seen[evt.ID] = true
	}
	require.Greater(t, page.Items[0].ID, page.Items[1].ID)

	res, data = doJSON(t, client, http.MethodGet, url+"&cursor="+page.NextCursor, nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page = decode[paginatedEvents](t, data)
	require.Len(t, page.Items, 1)
	require.Empty(t, page.NextCursor)
	require.False(t, seen[page.Items[0].ID])
	require.Equal(t, modelOwn, page.Items[0].Actor)
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/params/min_claim_solution_time", map[string]any{
		"value": "10",
	}, bearer(t, stranger))
	requireErrorCode(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/params/no_such_param", map[string]any{
		"value": "10",
	}, bearer(t, config.DefaultOwner))
	requireErrorCode(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/0x00", nil, bearer(t, stranger))
	requireErrorCode(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/models", map[string]any{
		"fee":      "abc",
		"template": "{}",
	}, bearer(t, modelOwn))
	requireErrorCode(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/admin/paused", map[string]any{
		"paused": true,
	}, bearer(t, config.DefaultOwner))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/models", map[string]any{
		"fee":      "0.1",
		"template": "{}",
	}, bearer(t, modelOwn))
	requireErrorCode(t, res, data, http.StatusConflict, "conflict")
	body := decode[apiError](t, data)
	require.Equal(t, engine.Codespace, body.Body.Details["codespace"])
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, srv.eng.Repo.InsertAPIKey(ctx, nil, domain.APIKey{
		ID:      "key-1",
		Address: user,
		Name:    "ci",
		KeyHash: repo.HashAPIKey("sekrit"),
	}))

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "sekrit"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[WhoAmIResponse](t, data)
	require.Equal(t, user, me.Address)
	require.Equal(t, "api_key", me.Source)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "wrong"})
	requireErrorCode(t, res, data, http.StatusUnauthorized, "invalid_credentials")
}

func TestLegacyActorHeaderIsOptIn(t *testing.T) {
	header := map[string]string{"X-Actor-Address": user}

	srv, cleanup := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, header)
	requireErrorCode(t, res, data, http.StatusUnauthorized, "unauthorized")
	cleanup()

	srv, cleanup = newTestServer(t, func(cfg *Config) { cfg.Auth.AllowLegacyActorHeader = true })
	defer cleanup()
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, header)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[WhoAmIResponse](t, data)
	require.Equal(t, user, me.Address)
	require.Equal(t, "legacy_header", me.Source)
}

func TestOwnerSeesRoles(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/admin/roles/grant", map[string]any{
		"address": user,
		"role":    "pauser",
	}, bearer(t, config.DefaultOwner))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.Equal(t, []string{"pauser"}, decode[[]string](t, data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, bearer(t, user))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.Equal(t, []string{"pauser"}, decode[WhoAmIResponse](t, data).Roles)
}

func TestRateLimitIsPerPrincipal(t *testing.T) {
	srv, cleanup := newTestServer(t, func(cfg *Config) {
		cfg.Auth.RateLimit = 0.001
		cfg.Auth.RateBurst = 2
	})
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/params"

	for i := 0; i < 2; i++ {
		res, data := doJSON(t, client, http.MethodGet, url, nil, bearer(t, user))
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	}
	res, data := doJSON(t, client, http.MethodGet, url, nil, bearer(t, user))
	requireErrorCode(t, res, data, http.StatusTooManyRequests, "rate_limited")
	require.NotEmpty(t, res.Header.Get("Retry-After"))

	res, data = doJSON(t, client, http.MethodGet, url, nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}

func TestElectionEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	_, err := ledger.Positions{DB: srv.eng.DB}.SetPosition(context.Background(), 1, user, domain.Tokens(5))
	require.NoError(t, err)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/election/votes", map[string]any{
		"candidates":  []string{valA},
		"position_id": 1,
	}, bearer(t, user))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	ballot := decode[BallotResponse](t, data)
	require.Equal(t, "5", ballot.Weight)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/election/votes", map[string]any{
		"candidates":  []string{valA},
		"position_id": 1,
	}, bearer(t, stranger))
	requireErrorCode(t, res, data, http.StatusForbidden, "forbidden")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/election/top", nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	top := decode[[]CandidateResponse](t, data)
	require.Len(t, top, 1)
	require.Equal(t, valA, top[0].Address)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/election/ballots/"+user, nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	voter := decode[VoterStatusResponse](t, data)
	require.True(t, voter.Voted)
	require.Equal(t, []string{valA}, voter.Ballot.Candidates)

	srv.advance(8 * 24 * time.Hour)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/election/status", nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.True(t, decode[ElectionStatusResponse](t, data).NewEpoch)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/election/finalize", nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.False(t, decode[ElectionStatusResponse](t, data).NewEpoch)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/election/master-contesters/"+valA, nil, bearer(t, stranger))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.True(t, decode[MasterContesterStatus](t, data).MasterContester)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(data), "taskmarket_http_requests_total")
}

type hookRecorder struct {
	mu      sync.Mutex
	fail    bool
	headers []http.Header
	bodies  [][]byte
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	body, _ := io.ReadAll(r.Body)
	h.headers = append(h.headers, r.Header.Clone())
	h.bodies = append(h.bodies, body)
	w.WriteHeader(http.StatusNoContent)
}

func TestWebhookDispatcherDeliversFilteredEvents(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	ctx := context.Background()
	rec := &hookRecorder{fail: true}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	// Events before the dispatcher starts are skipped.
	_, err := srv.eng.RegisterModel(ctx, modelOwn, modelOwn, domain.MustAmount("0.1"), []byte(`{"a":1}`))
	require.NoError(t, err)

	d := NewWebhookDispatcher(srv.eng.Repo, []config.Webhook{{
		URL:    hook.URL,
		Secret: "hook-secret",
		Events: []string{"model.registered"},
	}}, zerolog.Nop(), nil)
	d.DispatchOnce(ctx)

	m, err := srv.eng.RegisterModel(ctx, modelOwn, modelOwn, domain.MustAmount("0.2"), []byte(`{"a":2}`))
	require.NoError(t, err)
	require.NoError(t, srv.eng.SetModelFee(ctx, modelOwn, m.ID, domain.MustAmount("0.3")))

	d.DispatchOnce(ctx)
	rec.mu.Lock()
	require.Empty(t, rec.headers)

	rec.fail = false
	rec.mu.Unlock()
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.headers, 1)
	require.Equal(t, "model.registered", rec.headers[0].Get("X-Taskmarket-Event"))
	require.Equal(t, "hook-secret", rec.headers[0].Get("X-Taskmarket-Secret"))
	require.NotEmpty(t, rec.headers[0].Get("X-Taskmarket-Delivery"))
	require.True(t, strings.Contains(string(rec.bodies[0]), m.ID), string(rec.bodies[0]))
}
