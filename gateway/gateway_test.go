package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tarancss/rpcbalancer/balancer"
	"github.com/tarancss/rpcbalancer/lib/config"
	"github.com/tarancss/rpcbalancer/lib/msg"
	"github.com/tarancss/rpcbalancer/lib/store"
	"github.com/tarancss/rpcbalancer/lib/store/db"
)

// mockNode answers the few JSON-RPC methods the tests need.
func mockNode(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}

	_ = json.NewDecoder(r.Body).Decode(&req)

	res := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}

	switch req.Method {
	case "net_version":
		res["result"] = "1"
	case "eth_getBalance":
		res["result"] = "0x10"
	case "eth_blockNumber":
		res["result"] = "0x2a"
	default:
		res["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	}

	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(res)
}

// memStore keeps everything in memory.
type memStore struct {
	mu       sync.Mutex
	backends map[string][]config.BackendConfig
	settings map[string]store.Settings
	views    map[string]store.NetView
}

func newMemStore() *memStore {
	return &memStore{
		backends: make(map[string][]config.BackendConfig),
		settings: make(map[string]store.Settings),
		views:    make(map[string]store.NetView),
	}
}

func (m *memStore) AddBackend(net string, b config.BackendConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := findBackend(m.backends[net], b.ID); ok {
		return store.ErrBackendExists
	}

	m.backends[net] = append(m.backends[net], b)

	return nil
}

func (m *memStore) RemoveBackend(net, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, b := range m.backends[net] {
		if b.ID == id {
			m.backends[net] = append(m.backends[net][:i], m.backends[net][i+1:]...)

			return nil
		}
	}

	return store.ErrBackendNotFound
}

func (m *memStore) GetBackends(net string) ([]config.BackendConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]config.BackendConfig(nil), m.backends[net]...), nil
}

func (m *memStore) LoadSettings(net string) (store.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[net]
	if !ok {
		return s, store.ErrDataNotFound
	}

	return s, nil
}

func (m *memStore) SaveSettings(net string, s store.Settings) error {
	m.mu.Lock()
	m.settings[net] = s
	m.mu.Unlock()

	return nil
}

func (m *memStore) LoadView(net string) (store.NetView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[net]
	if !ok {
		return v, store.ErrDataNotFound
	}

	return v, nil
}

func (m *memStore) SaveView(net string, v store.NetView) error {
	m.mu.Lock()
	m.views[net] = v
	m.mu.Unlock()

	return nil
}

// memBroker records the events sent to it.
type memBroker struct {
	mu     sync.Mutex
	events []msg.Event
	closed bool
}

func (b *memBroker) Setup(interface{}) error { return nil }

func (b *memBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	return nil
}

func (b *memBroker) SendEvents(net string, es []msg.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range es {
		if e.Net != net {
			return errors.New("event sent to the wrong network")
		}
	}

	b.events = append(b.events, es...)

	return nil
}

func (b *memBroker) GetEvents(string, *sync.Mutex) (<-chan msg.Event, <-chan error, error) {
	return nil, nil, errors.New("not a consumer")
}

func (b *memBroker) has(net, kind string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.events {
		if e.Net == net && e.Kind == kind {
			return true
		}
	}

	return false
}

func testConfig(url string) config.ServiceConfig {
	return config.ServiceConfig{
		Network: "mainNet",
		Networks: []config.NetworkConfig{
			{Name: "mainNet", Backends: []config.BackendConfig{{ID: "node", Kind: config.KindRPC, URL: url}}},
			{Name: "sepolia", Backends: []config.BackendConfig{{ID: "sep", Kind: config.KindRPC, URL: url}}},
		},
		ProbeIntervalMs: 3600000,
	}
}

// do sends a request to the API and decodes the envelope, unmarshalling its body into body when given.
func do(t *testing.T, method, url string, payload string, body interface{}) (int, Response) {
	t.Helper()

	var rd io.Reader
	if payload != "" {
		rd = strings.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var res Response
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &res) == nil && body != nil && res.Body != "" {
		require.NoError(t, json.Unmarshal([]byte(res.Body), body))
	}

	return resp.StatusCode, res
}

func TestAPI(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(mockNode))
	defer node.Close()

	st, mb := newMemStore(), &memBroker{}

	// stored state of sepolia, applied when switching to it
	require.NoError(t, st.AddBackend("sepolia", config.BackendConfig{ID: "sepCustom", Kind: config.KindRPC,
		URL: node.URL}))
	require.NoError(t, st.SaveSettings("sepolia", store.Settings{Manual: true, Pinned: "sepCustom"}))

	g, err := New(testConfig(node.URL), st, mb, zaptest.NewLogger(t))
	require.NoError(t, err)
	g.ForwardEvents()

	api := httptest.NewServer(g.Handler())
	defer api.Close()

	var s string

	code, _ := do(t, http.MethodGet, api.URL+"/", "", &s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Hello, this is your multi-backend RPC balancer!", s)

	var nets NetworksRes

	code, _ = do(t, http.MethodGet, api.URL+"/networks", "", &nets)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, NetworksRes{Active: "mainNet", Networks: []string{"mainNet", "sepolia"}}, nets)

	code, _ = do(t, http.MethodPost, api.URL+"/networks", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	// calls
	var bal json.Number

	code, res := do(t, http.MethodPost, api.URL+"/call",
		`{"method":"getBalance","args":["0x357dd3856d856197c1a000bbAb4aBCB97Dfc92c4"]}`, &bal)
	assert.Equal(t, http.StatusOK, code, res.Error)
	assert.Equal(t, json.Number("16"), bal)

	code, res = do(t, http.MethodPost, api.URL+"/call", `{"method":"getToken"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, res.Error, balancer.ErrNoBackend.Error())

	code, _ = do(t, http.MethodPost, api.URL+"/call", `{"method":`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, res = do(t, http.MethodPost, api.URL+"/call", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrNoMethod.Error(), res.Error)

	// custom backends
	custom := `{"id":"local","kind":"rpc","url":"` + node.URL + `","methods":["ping","getCurrentBlock"]}`

	code, res = do(t, http.MethodPost, api.URL+"/backends", custom, &s)
	assert.Equal(t, http.StatusOK, code, res.Error)
	assert.Equal(t, "local", s)

	code, _ = do(t, http.MethodPost, api.URL+"/backends", custom, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, http.MethodPost, api.URL+"/backends", `{"kind":"rpc"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodPost, api.URL+"/backends", `{"id":"sol","kind":"solana"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	stored, _ := st.GetBackends("mainNet")
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Custom)

	var backends []balancer.BackendStats

	code, _ = do(t, http.MethodGet, api.URL+"/backends", "", &backends)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, backends, 2)
	assert.Equal(t, "node", backends[0].ID)
	assert.Equal(t, []string{"ping", "getCurrentBlock"}, backends[1].Methods)

	var block uint64

	code, _ = do(t, http.MethodPost, api.URL+"/call", `{"method":"getCurrentBlock","allow":["local"]}`, &block)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint64(42), block)

	// modes
	code, _ = do(t, http.MethodPost, api.URL+"/balancer/manual/local", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, store.Settings{Manual: true, Pinned: "local"}, st.settings["mainNet"])

	code, _ = do(t, http.MethodPost, api.URL+"/balancer/manual/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodPost, api.URL+"/call", `{"method":"getBalance","args":["0x1"]}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code, "pinned backend cannot serve getBalance")

	code, _ = do(t, http.MethodDelete, api.URL+"/backends/node", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodDelete, api.URL+"/backends/local", "", nil)
	assert.Equal(t, http.StatusOK, code)

	stored, _ = st.GetBackends("mainNet")
	assert.Empty(t, stored)
	assert.Equal(t, store.Settings{}, st.settings["mainNet"])

	code, _ = do(t, http.MethodDelete, api.URL+"/backends/local", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodPost, api.URL+"/balancer/auto", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, http.MethodPost, api.URL+"/balancer/flush", "", nil)
	assert.Equal(t, http.StatusOK, code)

	var status balancer.Status

	code, _ = do(t, http.MethodGet, api.URL+"/status", "", &status)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "mainNet", status.Network)
	assert.False(t, status.Manual)
	assert.Zero(t, status.Workers)

	// network switch restores the stored state of the network
	code, _ = do(t, http.MethodPost, api.URL+"/networks/ropsten", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, http.MethodPost, api.URL+"/networks/sepolia", "", &s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sepolia", s)

	code, _ = do(t, http.MethodGet, api.URL+"/status", "", &status)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sepolia", status.Network)
	assert.Equal(t, "sepCustom", status.Pinned)

	code, _ = do(t, http.MethodGet, api.URL+"/backends", "", &backends)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, backends, 2)
	assert.True(t, backends[1].Custom)

	// events reach the broker
	require.Eventually(t, func() bool {
		return mb.has("mainNet", "callSucceeded") && mb.has("mainNet", "backendRemoved") &&
			mb.has("sepolia", "networkSwitched")
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, g.Stop(), db.ErrUnknownDB)
	assert.True(t, mb.closed)
}

func TestNewUnknownNetwork(t *testing.T) {
	conf := testConfig("http://localhost:8545")
	conf.Network = "ropsten"

	_, err := New(conf, nil, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrNoNet)
}

func TestNewBadBackend(t *testing.T) {
	conf := testConfig("http://localhost:8545")
	conf.Networks[0].Backends = append(conf.Networks[0].Backends, config.BackendConfig{ID: "x", Kind: "solana"})

	_, err := New(conf, nil, nil, zaptest.NewLogger(t))
	assert.Error(t, err)

	conf = testConfig("http://localhost:8545")
	conf.Networks[0].Backends = append(conf.Networks[0].Backends, conf.Networks[0].Backends[0])

	_, err = New(conf, nil, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, balancer.ErrDuplicateBackend)
}

func TestSwitchClosedBalancer(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(mockNode))
	defer node.Close()

	g, err := New(testConfig(node.URL), nil, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	g.Balancer().Close()

	err = g.SwitchNetwork("sepolia")
	assert.ErrorIs(t, err, balancer.ErrClosed)
	assert.Equal(t, http.StatusServiceUnavailable, status(err))
	assert.Equal(t, "mainNet", g.Balancer().Network())
}

func TestToMsg(t *testing.T) {
	ts := time.Now()
	m := ToMsg(balancer.Event{Kind: balancer.CallFailed, Network: "mainNet", Backend: "node", CallID: 3,
		Method: "getBalance", Retries: 3, Final: true, Err: balancer.ErrTimeout, Elapsed: 1500 * time.Millisecond,
		Time: ts})

	assert.Equal(t, msg.Event{Kind: "callFailed", Net: "mainNet", Backend: "node", Call: 3, Method: "getBalance",
		Retries: 3, Final: true, Err: balancer.ErrTimeout.Error(), ElapsedMs: 1500, TS: ts}, m)
}

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{ErrBadRequest, http.StatusBadRequest},
		{balancer.ErrNotCustom, http.StatusBadRequest},
		{ErrNoNet, http.StatusNotFound},
		{balancer.ErrDuplicateBackend, http.StatusConflict},
		{balancer.ErrNoBackend, http.StatusServiceUnavailable},
		{&balancer.CallError{Err: balancer.ErrTimeout}, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.code, status(tc.err), "%v", tc.err)
	}
}
