package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/golaborate/gf2/generichttp"
)

func TestLockedRoutesReturn423(t *testing.T) {
	l := New()
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/clear"}: generichttp.Do(func() error { return nil }),
	}
	Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.Bind(r)

	serve := func(method, path, body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w.Code
	}
	if code := serve(http.MethodPost, "/clear", ""); code != http.StatusOK {
		t.Fatalf("expected 200 while unlocked, got %d", code)
	}
	if code := serve(http.MethodPost, "/lock", `{"bool": true}`); code != http.StatusOK {
		t.Fatalf("locking replied %d", code)
	}
	if !l.Locked() {
		t.Fatal("expected the locker locked")
	}
	if code := serve(http.MethodPost, "/clear", ""); code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", code)
	}
	if code := serve(http.MethodGet, "/endpoints", ""); code != http.StatusOK {
		t.Errorf("expected the endpoint list to stay reachable, got %d", code)
	}
	if code := serve(http.MethodPost, "/lock", `{"bool": false}`); code != http.StatusOK {
		t.Fatalf("unlocking replied %d", code)
	}
	if code := serve(http.MethodPost, "/clear", ""); code != http.StatusOK {
		t.Errorf("expected 200 after unlocking, got %d", code)
	}
}

func TestHTTPSetRejectsBadJSON(t *testing.T) {
	l := New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader("nope")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if l.Locked() {
		t.Error("a bad request locked the locker")
	}
}

func TestLockMatchesWholeRouteName(t *testing.T) {
	l := New()
	calls := 0
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/clock"}: func(w http.ResponseWriter, r *http.Request) {
			calls++
		},
		generichttp.MethodPath{Method: http.MethodPost, Path: "/unlockable"}: func(w http.ResponseWriter, r *http.Request) {
			calls++
		},
	}
	Inject(rt, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	rt.Bind(r)
	l.Lock()

	for _, p := range []string{"/clock", "/unlockable", "/clock/"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, p, strings.NewReader(`{"bool": true}`)))
		if w.Code != http.StatusLocked {
			t.Errorf("%s: expected 423 while locked, got %d", p, w.Code)
		}
	}
	if calls != 0 {
		t.Errorf("handlers ran %d times while locked", calls)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool": false}`)))
	if w.Code != http.StatusOK || l.Locked() {
		t.Errorf("expected /lock to stay reachable, got %d", w.Code)
	}
}
