package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsdash/listforge/blocklist"
)

// memSource is an in-memory ConfigSource and NodeRegistry.
type memSource struct {
	cfgs map[string]*blocklist.NodeConfig
	err  error
}

func (m *memSource) Config(ctx context.Context, nodeID string) (*blocklist.NodeConfig, error) {
	if m.err != nil {
		return nil, m.err
	}
	cfg, ok := m.cfgs[nodeID]
	if !ok {
		return nil, errors.New("unknown node")
	}
	return cfg, nil
}

func (m *memSource) ListNodes(ctx context.Context) ([]blocklist.Node, error) {
	if m.err != nil {
		return nil, m.err
	}
	nodes := make([]blocklist.Node, 0, len(m.cfgs))
	for id := range m.cfgs {
		nodes = append(nodes, blocklist.Node{ID: id})
	}
	return nodes, nil
}

func newTestHandler(t *testing.T, src *memSource) http.Handler {
	t.Helper()
	store := blocklist.NewStore(blocklist.Options{})
	t.Cleanup(func() { store.Close() })
	engine := blocklist.NewEngine(store, src, src)
	sched := blocklist.NewScheduler(store, src, src)
	t.Cleanup(sched.Stop)
	return NewServer(engine, sched, store).Handler()
}

func TestSimulateEndpoint(t *testing.T) {
	lists := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "gambling.com\n")
	}))
	defer lists.Close()

	src := &memSource{cfgs: map[string]*blocklist.NodeConfig{
		"node-1": {Groups: []blocklist.Group{{
			Name:          "default",
			BlockListURLs: []string{lists.URL},
		}}},
	}}
	handler := newTestHandler(t, src)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/nodes/node-1/groups/default/simulate?domain=bets.gambling.com", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var verdict blocklist.Verdict
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	assert.Equal(t, blocklist.DecisionBlocked, verdict.Decision)
	assert.Equal(t, "bets.gambling.com", verdict.Domain)
	require.Len(t, verdict.Reasons, 1)
	assert.Equal(t, blocklist.MatchBlockList, verdict.Reasons[0].Type)
	assert.Equal(t, "gambling.com", verdict.Reasons[0].Matched)
}

func TestSimulateRequiresDomain(t *testing.T) {
	handler := newTestHandler(t, &memSource{cfgs: map[string]*blocklist.NodeConfig{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/nodes/node-1/groups/default/simulate", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Contains(t, apiErr.Error, "domain")
}

func TestCheckEndpoint(t *testing.T) {
	src := &memSource{cfgs: map[string]*blocklist.NodeConfig{
		"node-1": {Groups: []blocklist.Group{
			{Name: "kids", Blocked: []string{"games.example.com"}},
			{Name: "adults", Allowed: []string{"games.example.com"}},
		}},
	}}
	handler := newTestHandler(t, src)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/nodes/node-1/check?domain=games.example.com", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var report blocklist.DomainReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Hits, 2)
	groups := []string{report.Hits[0].Group, report.Hits[1].Group}
	assert.Contains(t, groups, "kids")
	assert.Contains(t, groups, "adults")
}

func TestRefreshEndpoint(t *testing.T) {
	lists := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "example.com\n")
	}))
	defer lists.Close()

	src := &memSource{cfgs: map[string]*blocklist.NodeConfig{
		"node-1": {Groups: []blocklist.Group{{Name: "default", BlockListURLs: []string{lists.URL}}}},
	}}
	handler := newTestHandler(t, src)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/nodes/node-1/refresh", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "node-1", body["node"])
	assert.NotZero(t, body["refreshedAt"])
}

func TestRefreshEndpointConfigFailure(t *testing.T) {
	handler := newTestHandler(t, &memSource{err: errors.New("admin api down")})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/nodes/node-1/refresh", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestClearEndpoints(t *testing.T) {
	handler := newTestHandler(t, &memSource{cfgs: map[string]*blocklist.NodeConfig{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/nodes/node-1/cache", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListsEndpoint(t *testing.T) {
	lists := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "# two entries\nads.example.com\ntracker.example.org\n")
	}))
	defer lists.Close()

	src := &memSource{cfgs: map[string]*blocklist.NodeConfig{
		"node-1": {Groups: []blocklist.Group{{Name: "default", BlockListURLs: []string{lists.URL}}}},
	}}
	handler := newTestHandler(t, src)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nodes/node-1/lists", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var infos []blocklist.ListInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, lists.URL, infos[0].URL)
	assert.Equal(t, 2, infos[0].Entries)
	assert.True(t, infos[0].Healthy)
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestHandler(t, &memSource{cfgs: map[string]*blocklist.NodeConfig{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
