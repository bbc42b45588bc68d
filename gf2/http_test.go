package gf2

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/golaborate/gf2/cp2130"
	"github.com/golaborate/gf2/generichttp"
	"github.com/golaborate/gf2/server"
)

func newTestRouter() (chi.Router, *cp2130.Mock) {
	d, m := newTestDevice()
	r := chi.NewRouter()
	NewHTTPWrapper(d).RT().Bind(r)
	return r, m
}

func request(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHTTPClearThenWaveGen(t *testing.T) {
	r, _ := newTestRouter()
	if w := request(r, http.MethodPost, "/clear", ""); w.Code != http.StatusOK {
		t.Fatalf("clear replied %d: %s", w.Code, w.Body.String())
	}
	w := request(r, http.MethodGet, "/wavegen", "")
	if w.Code != http.StatusOK {
		t.Fatalf("wavegen replied %d", w.Code)
	}
	b := server.BoolT{}
	if err := json.NewDecoder(w.Body).Decode(&b); err != nil {
		t.Fatal(err)
	}
	if !b.Bool {
		t.Error("expected the wave generator enabled after /clear")
	}
}

func TestHTTPAmplitudeOutOfRangeIsBadRequest(t *testing.T) {
	r, m := newTestRouter()
	w := request(r, http.MethodPost, "/amplitude", `{"f64": 9}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w.Header().Get(generichttp.ErrorCountHeader) != "1" {
		t.Errorf("expected one failure reported, got %q", w.Header().Get(generichttp.ErrorCountHeader))
	}
	if len(m.Ops()) != 0 {
		t.Errorf("expected no bus calls, got %v", m.Ops())
	}
}

func TestHTTPFrequencyUsesSelection(t *testing.T) {
	r, m := newTestRouter()
	w := request(r, http.MethodPost, "/frequency", `{"sel": true, "f64": 1000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("frequency replied %d: %s", w.Code, w.Body.String())
	}
	wr := writes(m)[0]
	if !equalBytes(wr, []byte{0xB3, 0x33, 0x80, 0xCC}) {
		t.Errorf("expected FREQ1 words B3 33 80 CC, got % X", wr)
	}
}

func TestHTTPBusFailureReportsCount(t *testing.T) {
	r, m := newTestRouter()
	m.Fail["SPIWrite"] = errors.New("pipe error")
	w := request(r, http.MethodPost, "/clear", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if w.Header().Get(generichttp.ErrorCountHeader) != "3" {
		t.Errorf("expected three failures reported, got %q", w.Header().Get(generichttp.ErrorCountHeader))
	}
}

func TestHTTPWaveform(t *testing.T) {
	r, m := newTestRouter()
	if w := request(r, http.MethodPost, "/waveform", `{"str": "triangle"}`); w.Code != http.StatusOK {
		t.Fatalf("waveform replied %d: %s", w.Code, w.Body.String())
	}
	if !equalBytes(writes(m)[0], []byte{0x22, 0x02}) {
		t.Errorf("expected the triangle control word, got % X", writes(m)[0])
	}
	if w := request(r, http.MethodPost, "/waveform", `{"str": "square"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown waveform, got %d", w.Code)
	}
}

func TestHTTPRevision(t *testing.T) {
	r, m := newTestRouter()
	m.Config.MajRel = 2
	w := request(r, http.MethodGet, "/revision", "")
	s := server.StrT{}
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Str != "A" {
		t.Errorf("expected revision A, got %q", s.Str)
	}
}

func TestHTTPExpected(t *testing.T) {
	r, m := newTestRouter()
	w := request(r, http.MethodGet, "/expected?amplitude=1&phase=-90", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected replied %d: %s", w.Code, w.Body.String())
	}
	var out map[string]float64
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["amplitude"] != ExpectedAmplitude(1) || out["phase"] != 270 {
		t.Errorf("unexpected reply %v", out)
	}
	if _, ok := out["frequency"]; ok {
		t.Error("frequency was not asked for but was returned")
	}
	if len(m.Ops()) != 0 {
		t.Errorf("expected no bus calls, got %v", m.Ops())
	}
	if w := request(r, http.MethodGet, "/expected?frequency=50000", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an out of range frequency, got %d", w.Code)
	}
}
