package merge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/John-Robertt/mergesub/internal/diag"
	"github.com/John-Robertt/mergesub/internal/fetch"
	"github.com/John-Robertt/mergesub/internal/model"
	"github.com/John-Robertt/mergesub/internal/store"
)

type fakeFetcher struct {
	bodies map[string]string
	delay  map[string]time.Duration
}

func (f fakeFetcher) Fetch(ctx context.Context, u string) (string, error) {
	if d := f.delay[u]; d > 0 {
		time.Sleep(d)
	}
	b, ok := f.bodies[u]
	if !ok {
		return "", fmt.Errorf("fetch %s: connection refused", u)
	}
	return b, nil
}

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func decode(t *testing.T, out string) string {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(out)
	require.NoError(t, err)
	return string(b)
}

func vmessLine(t *testing.T, rec map[string]any) string {
	t.Helper()
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	return "vmess://" + b64(string(b))
}

const (
	ssA    = "ss://YWVzLTEyOC1nY206cGFzcw==@a.example.com:8388#A"
	ssC    = "ss://YWVzLTEyOC1nY206cDI=@c.example.com:8389#C"
	vlessB = "vless://id@b.example.com:443?type=ws&security=tls&host=#B"
)

func TestMerge_SkipsFailedSourcesInOrder(t *testing.T) {
	var rec diag.Recorder
	p := New(fakeFetcher{bodies: map[string]string{
		"https://a": b64(ssA),
		"https://c": ssC + "\n",
	}}, &rec)

	out := p.Merge(context.Background(), []string{"https://a", "https://b", "https://c"}, "trojan://p@m.example:443", model.RelayTarget{})

	assert.Equal(t, ssA+"\n"+ssC+"\n"+"\n"+"trojan://p@m.example:443", decode(t, out))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, diag.KindSourceUnavailable, events[0].Kind)
	assert.Equal(t, "https://b", events[0].Source)
	assert.Error(t, events[0].Err)
}

func TestMerge_EmptyBodyIsSkipped(t *testing.T) {
	var rec diag.Recorder
	p := New(fakeFetcher{bodies: map[string]string{
		"https://a": "",
		"https://b": b64(ssA),
		"https://c": " \r\n",
	}}, &rec)

	out := p.Merge(context.Background(), []string{"https://a", "https://b", "https://c"}, "ss://m@x:1", model.RelayTarget{})
	assert.Equal(t, ssA+"\nss://m@x:1", decode(t, out))

	events := rec.Events()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, diag.KindSourceUnavailable, e.Kind)
		assert.ErrorIs(t, e.Err, ErrEmptySource)
	}
}

func TestMerge_InvalidUTF8KeepsSource(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "ss://YWVzOnA=@h.example.com:1#caf\xe9\n"+ssC)
	}))
	defer ts.Close()

	var rec diag.Recorder
	p := New(fetch.HTTPFetcher{}, &rec)
	out := decode(t, p.Merge(context.Background(), []string{ts.URL}, "", model.RelayTarget{}))

	assert.Equal(t, "ss://YWVzOnA=@h.example.com:1#caf\uFFFD\n"+ssC+"\n", out)
	assert.Empty(t, rec.Events())
}

func TestMerge_AllSourcesFail(t *testing.T) {
	p := New(fakeFetcher{}, nil)
	out := p.Merge(context.Background(), []string{"https://a", "https://b"}, "ss://x", model.RelayTarget{})
	assert.Equal(t, "\nss://x", decode(t, out))
}

func TestMerge_NoSourcesNoNodes(t *testing.T) {
	p := New(fakeFetcher{}, nil)
	assert.Equal(t, "\n", decode(t, p.Merge(context.Background(), nil, "", model.RelayTarget{})))
}

func TestMerge_OrderIndependentOfCompletion(t *testing.T) {
	p := New(fakeFetcher{
		bodies: map[string]string{"https://slow": "ss://slow", "https://fast": "ss://fast"},
		delay:  map[string]time.Duration{"https://slow": 50 * time.Millisecond},
	}, nil)
	out := p.Merge(context.Background(), []string{"https://slow", "https://fast"}, "", model.RelayTarget{})
	assert.Equal(t, "ss://slow\nss://fast\n", decode(t, out))
}

func TestMerge_DuplicatesPreserved(t *testing.T) {
	p := New(fakeFetcher{bodies: map[string]string{"https://a": ssA}}, nil)
	out := p.Merge(context.Background(), []string{"https://a", "https://a"}, ssA, model.RelayTarget{})
	assert.Equal(t, ssA+"\n"+ssA+"\n"+ssA, decode(t, out))
}

func TestMerge_Deterministic(t *testing.T) {
	p := New(fakeFetcher{bodies: map[string]string{
		"https://a": b64(ssA + "\n" + vlessB),
		"https://c": ssC,
	}}, nil)
	sources := []string{"https://a", "https://b", "https://c"}
	first := p.Merge(context.Background(), sources, "ss://manual", model.RelayTarget{})
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, p.Merge(context.Background(), sources, "ss://manual", model.RelayTarget{}))
	}
}

func TestMerge_RelayAppliesToSourcesAndManualNodes(t *testing.T) {
	var rec diag.Recorder
	manual := vmessLine(t, map[string]any{"add": "m.example", "port": 443, "net": "ws", "tls": "tls", "host": ""})
	p := New(fakeFetcher{bodies: map[string]string{
		"https://a": b64(vlessB + "\n" + ssA + "\nvmess://broken"),
	}}, &rec)

	out := decode(t, p.Merge(context.Background(), []string{"https://a"}, "  "+manual+"  ", model.RelayTarget{Address: "9.9.9.9", Port: "2053"}))
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "vless://id@9.9.9.9:2053?type=ws&security=tls&host=#B", lines[0])
	assert.Equal(t, ssA, lines[1])
	assert.Equal(t, "vmess://broken", lines[2])

	b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(lines[3], "vmess://"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "9.9.9.9", got["add"])
	assert.Equal(t, float64(2053), got["port"])

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, diag.KindDecodeFallback, events[0].Kind)
	assert.Equal(t, "https://a", events[0].Source)
	assert.Equal(t, "vmess://broken", events[0].Line)
}

func TestMerge_EndToEndWithTimeout(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, b64(ssA+"\n"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	defer close(release)

	manual := vmessLine(t, map[string]any{"add": "v.example", "port": 443, "net": "tcp"})
	p := New(fetch.HTTPFetcher{Options: fetch.Options{Timeout: 100 * time.Millisecond}}, nil)

	out := decode(t, p.Merge(context.Background(), []string{ts.URL + "/a", ts.URL + "/b"}, manual, model.RelayTarget{}))

	var nonEmpty []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			nonEmpty = append(nonEmpty, line)
		}
	}
	assert.Equal(t, []string{ssA, manual}, nonEmpty)
}

func TestMerge_FetchesConcurrently(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})

	mux := http.NewServeMux()
	for _, path := range []string{"/a", "/b"} {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			started <- path
			<-release
			_, _ = fmt.Fprint(w, "ss://"+strings.TrimPrefix(path, "/"))
		})
	}
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := New(nil, nil)
	done := make(chan string, 1)
	go func() {
		done <- p.Merge(context.Background(), []string{ts.URL + "/a", ts.URL + "/b"}, "", model.RelayTarget{})
	}()

	seen := make(map[string]bool, 2)
	for i := 0; i < 2; i++ {
		select {
		case path := <-started:
			seen[path] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for concurrent fetch start (seen=%v)", seen)
		}
	}
	close(release)

	select {
	case out := <-done:
		assert.Equal(t, "ss://a\nss://b\n", decode(t, out))
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Merge to finish")
	}
}

func TestMerge_NoGoroutineLeak(t *testing.T) {
	// Keep-alive connections from the httptest-based tests may still be winding down.
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	var calls atomic.Int64
	f := fetcherFunc(func(ctx context.Context, u string) (string, error) {
		calls.Add(1)
		if strings.HasSuffix(u, "/bad") {
			return "", errors.New("boom")
		}
		return "ss://" + u, nil
	})
	sources := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		suffix := "/ok"
		if i%3 == 0 {
			suffix = "/bad"
		}
		sources = append(sources, fmt.Sprintf("h%d%s", i, suffix))
	}
	out := decode(t, New(f, nil).Merge(context.Background(), sources, "", model.RelayTarget{}))
	assert.Equal(t, int64(50), calls.Load())
	assert.Equal(t, 33, strings.Count(out, "ss://"))
}

type fetcherFunc func(ctx context.Context, u string) (string, error)

func (f fetcherFunc) Fetch(ctx context.Context, u string) (string, error) { return f(ctx, u) }

type brokenStore struct{}

func (brokenStore) Load(ctx context.Context) (store.Data, error) {
	return store.Data{}, errors.New("kv unavailable")
}
func (brokenStore) Save(ctx context.Context, d store.Data) error { return nil }

func TestProduce(t *testing.T) {
	ctx := context.Background()
	p := New(fakeFetcher{bodies: map[string]string{"https://a": ssA}}, nil)

	st := store.NewMemory(store.Data{Subscriptions: []string{"https://a"}, Nodes: ssC})
	out, err := p.Produce(ctx, st, model.RelayTarget{})
	require.NoError(t, err)
	assert.Equal(t, ssA+"\n"+ssC, decode(t, out))

	_, err = p.Produce(ctx, brokenStore{}, model.RelayTarget{})
	assert.EqualError(t, err, "kv unavailable")
}
