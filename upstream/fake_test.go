package upstream

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const contextOKPage = `<html><body><h1>Contexto</h1><p>Período letivo 20261</p></body></html>`

// fakeTOTVS is a scripted stand-in for the upstream. Handlers can be swapped
// per test; every call is counted by method and path.
type fakeTOTVS struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	calls    map[string]int
	bodies   map[string][]string
	cookies  []string
	handlers map[string]http.HandlerFunc
}

func newFakeTOTVS(t *testing.T) *fakeTOTVS {
	t.Helper()
	f := &fakeTOTVS{
		t:        t,
		calls:    make(map[string]int),
		bodies:   make(map[string][]string),
		handlers: make(map[string]http.HandlerFunc),
	}
	f.handle(getContextPath, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, contextOKPage)
	})
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTOTVS) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))
	key := r.Method + " " + r.URL.Path
	f.mu.Lock()
	f.calls[key]++
	f.bodies[key] = append(f.bodies[key], string(body))
	f.cookies = append(f.cookies, r.Header.Get("Cookie"))
	h, ok := f.handlers[r.URL.Path]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeTOTVS) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakeTOTVS) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+path]
}

func (f *fakeTOTVS) cookieHeader(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.cookies) {
		return ""
	}
	return f.cookies[i]
}

func (f *fakeTOTVS) lastBody(method, path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[method+" "+path]
	if len(b) == 0 {
		return ""
	}
	return b[len(b)-1]
}

func (f *fakeTOTVS) client(opts ...Option) *Client {
	f.t.Helper()
	c, err := NewClient(f.srv.URL, opts...)
	require.NoError(f.t, err)
	return c
}

func testCookies() CookieSet {
	return CookieSet{
		SessionID: "sess123",
		AuthToken: "AUTHTOKEN",
		Extra:     map[string]string{"EduTipoUser": "A"},
	}
}
