package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/mergesub/internal/config"
	"github.com/John-Robertt/mergesub/internal/model"
	"github.com/John-Robertt/mergesub/internal/store"
)

const testToken = "t0ken"

type brokenStore struct{}

func (brokenStore) Load(ctx context.Context) (store.Data, error) {
	return store.Data{}, errors.New("disk on fire")
}

func (brokenStore) Save(ctx context.Context, d store.Data) error {
	return errors.New("disk on fire")
}

func newTestMux(t *testing.T, st store.Store, cfg config.Config) *http.ServeMux {
	t.Helper()
	return NewMux(Options{Config: cfg, Store: st, Token: testToken})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.AppError {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), "body=%q", rr.Body.String())
	return resp.Error
}

func decodeSub(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(rr.Body.String())
	require.NoError(t, err, "body=%q", rr.Body.String())
	return string(b)
}

func TestMux_Healthz(t *testing.T) {
	mux := newTestMux(t, nil, config.Config{})
	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestMux_UnknownRoute(t *testing.T) {
	mux := newTestMux(t, nil, config.Config{})
	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/a/b/c", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSub_WrongToken(t *testing.T) {
	mux := newTestMux(t, nil, config.Config{})
	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/not-the-token", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSub_MergesSourcesAndNodes(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString([]byte("vless://a@h.example:1"))))
	}))
	defer up.Close()

	st := store.NewMemory(store.Data{
		Subscriptions: []string{up.URL + "/sub", "http://127.0.0.1:1/down"},
		Nodes:         "trojan://p@x.example:2",
	})
	mux := newTestMux(t, st, config.Config{})

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/"+testToken, nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, "vless://a@h.example:1\ntrojan://p@x.example:2", decodeSub(t, rr))
}

func TestSub_RelayFromQuery(t *testing.T) {
	st := store.NewMemory(store.Data{
		Nodes: "vless://uuid@host.example:443?type=ws&security=tls&host=",
	})
	mux := newTestMux(t, st, config.Config{RelayAddress: "1.1.1.1", RelayPort: "443"})

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/"+testToken+"?CFIP=9.9.9.9&CFPORT=2053", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "\nvless://uuid@9.9.9.9:2053?type=ws&security=tls&host=", decodeSub(t, rr))

	// Without query parameters the configured relay applies.
	rr = serve(mux, httptest.NewRequest(http.MethodGet, "/"+testToken, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "\nvless://uuid@1.1.1.1:443?type=ws&security=tls&host=", decodeSub(t, rr))
}

func TestSub_StoreFailureIsGeneric500(t *testing.T) {
	mux := newTestMux(t, brokenStore{}, config.Config{})
	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/"+testToken, nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	e := decodeError(t, rr)
	assert.Equal(t, "INTERNAL_ERROR", e.Code)
	assert.Empty(t, e.Hint)
	assert.NotContains(t, rr.Body.String(), "disk on fire")
}

func TestAdmin_BasicAuth(t *testing.T) {
	mux := newTestMux(t, nil, config.Config{Username: "admin", Password: "secret"})

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/admin/data", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, `Basic realm="Node"`, rr.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rr).Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/data", nil)
	req.SetBasicAuth("admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(mux, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/data", nil)
	req.SetBasicAuth("admin", "secret")
	assert.Equal(t, http.StatusOK, serve(mux, req).Code)

	// The subscription itself is never behind auth.
	rr = serve(mux, httptest.NewRequest(http.MethodGet, "/"+testToken, nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdmin_OpenWhenCredentialsMissing(t *testing.T) {
	mux := newTestMux(t, nil, config.Config{Username: "admin"})
	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/admin/data", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdmin_SubscriptionLifecycle(t *testing.T) {
	st := store.NewMemory(store.Data{})
	mux := newTestMux(t, st, config.Config{})

	rr := serve(mux, jsonRequest(t, http.MethodPost, "/api/add-subscriptions", map[string]any{
		"subscriptions": "https://a.example/sub\nhttps://b.example/sub",
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var added addResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &added))
	assert.True(t, added.Success)
	assert.Equal(t, []string{"https://a.example/sub", "https://b.example/sub"}, added.Added)
	assert.Empty(t, added.Existing)

	rr = serve(mux, jsonRequest(t, http.MethodPost, "/api/add-subscriptions", map[string]any{
		"subscriptions": []string{"https://a.example/sub"},
	}))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ALREADY_EXISTS", decodeError(t, rr).Code)

	rr = serve(mux, jsonRequest(t, http.MethodDelete, "/api/delete-subscriptions", map[string]any{
		"subscriptions": []string{"https://a.example/sub", "https://missing.example"},
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var deleted deleteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &deleted))
	assert.Equal(t, []string{"https://a.example/sub"}, deleted.Deleted)
	assert.Equal(t, []string{"https://missing.example"}, deleted.NotFound)

	rr = serve(mux, jsonRequest(t, http.MethodDelete, "/api/delete-subscriptions", map[string]any{
		"subscriptions": "https://a.example/sub",
	}))
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rr).Code)

	d, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b.example/sub"}, d.Subscriptions)
}

func TestAdmin_NodesAndData(t *testing.T) {
	st := store.NewMemory(store.Data{})
	mux := newTestMux(t, st, config.Config{})

	encoded := base64.StdEncoding.EncodeToString([]byte("trojan://p@h.example:1"))
	rr := serve(mux, jsonRequest(t, http.MethodPost, "/admin/add-node", map[string]any{
		"node": encoded + "\nss://abc@h.example:2",
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = serve(mux, jsonRequest(t, http.MethodDelete, "/api/delete-nodes", map[string]any{
		"nodes": []string{" ss://abc@h.example:2,"},
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = serve(mux, httptest.NewRequest(http.MethodGet, "/admin/data", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var data dataResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &data))
	assert.Equal(t, []string{}, data.Subscriptions)
	assert.Equal(t, []string{"trojan://p@h.example:1"}, data.Nodes)
}

func TestAdmin_RejectsBadBodies(t *testing.T) {
	mux := newTestMux(t, nil, config.Config{})

	cases := []struct {
		name string
		body string
		ct   string
	}{
		{name: "not json", body: "https://a.example", ct: "application/json"},
		{name: "unknown field", body: `{"subs":"https://a.example"}`, ct: "application/json"},
		{name: "wrong type", body: `{"subscriptions":42}`, ct: "application/json"},
		{name: "two documents", body: `{"subscriptions":"a"}{"subscriptions":"b"}`, ct: "application/json"},
		{name: "form content type", body: `{"subscriptions":"a"}`, ct: "application/x-www-form-urlencoded"},
		{name: "empty input", body: `{"subscriptions":"  \n "}`, ct: "application/json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/add-subscriptions", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", tc.ct)
			rr := serve(mux, req)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, rr).Code)
		})
	}
}

func TestAdmin_StoreFailure(t *testing.T) {
	mux := newTestMux(t, brokenStore{}, config.Config{})
	rr := serve(mux, jsonRequest(t, http.MethodPost, "/api/add-nodes", map[string]any{"nodes": "ss://x"}))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rr).Code)
}

func TestMux_TokenAndAPIURL(t *testing.T) {
	mux := newTestMux(t, nil, config.Config{APIURL: "https://conv.example"})

	rr := serve(mux, httptest.NewRequest(http.MethodGet, "/get-sub-token", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"token":"t0ken"}`, rr.Body.String())

	rr = serve(mux, httptest.NewRequest(http.MethodGet, "/get-apiurl", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ApiUrl":"https://conv.example"}`, rr.Body.String())
}

func TestOptions_TokenDefaults(t *testing.T) {
	assert.Equal(t, store.DefaultToken, Options{}.withDefaults().Token)
	assert.Equal(t, "cfg", Options{Config: config.Config{SubToken: "cfg"}}.withDefaults().Token)
	assert.Equal(t, "explicit", Options{Token: "explicit", Config: config.Config{SubToken: "cfg"}}.withDefaults().Token)
}
