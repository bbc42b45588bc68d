package generichttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
)

func TestSubMuxSanitize(t *testing.T) {
	tc := []struct {
		in, out string
	}{
		{"gf2", "/gf2"},
		{"/omc/gf2", "/omc/gf2"},
		{"omc/gf2/", "/omc/gf2"},
		{"/omc/gf2/*", "/omc/gf2"},
	}
	for _, c := range tc {
		if got := SubMuxSanitize(c.in); got != c.out {
			t.Errorf("%q: expected %q, got %q", c.in, c.out, got)
		}
	}
}

func TestBindListsEndpoints(t *testing.T) {
	rt := RouteTable{
		MethodPath{Method: http.MethodPost, Path: "/b"}: Do(func() error { return nil }),
		MethodPath{Method: http.MethodGet, Path: "/a"}:  GetBool(func() (bool, error) { return true, nil }),
	}
	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/endpoints", nil))
	var eps []string
	if err := json.NewDecoder(w.Body).Decode(&eps); err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 || eps[0] != "GET /a" || eps[1] != "POST /b" {
		t.Errorf("expected [GET /a POST /b], got %v", eps)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/b", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected GET on a POST route to be refused, got %d", w.Code)
	}
}

func TestReplyError(t *testing.T) {
	w := httptest.NewRecorder()
	ReplyError(w, Error{Err: errors.New("bad value"), Code: http.StatusBadRequest, Count: 1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w.Header().Get(ErrorCountHeader) != "1" {
		t.Errorf("expected count header 1, got %q", w.Header().Get(ErrorCountHeader))
	}

	w = httptest.NewRecorder()
	ReplyError(w, errors.New("plain"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if w.Header().Get(ErrorCountHeader) != "" {
		t.Error("plain errors should not carry a count")
	}
}

func TestSetFloatRejectsBadJSON(t *testing.T) {
	called := false
	h := SetFloat(func(float64) error { called = true; return nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if called {
		t.Error("setter called with an undecodable body")
	}
}

func TestSetSelFloat(t *testing.T) {
	var (
		sel bool
		f   float64
	)
	h := SetSelFloat(func(s bool, v float64) error { sel, f = s, v; return nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sel": true, "f64": 12.5}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !sel || f != 12.5 {
		t.Errorf("expected (true, 12.5), got (%t, %g)", sel, f)
	}
}
