package gf2

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/golaborate/gf2/generichttp"
)

// HTTPWrapper wraps a GF2 in an HTTP control interface.  Each request holds
// the wrapper's lock for the whole of the operation it runs.
type HTTPWrapper struct {
	dev *Device
	mu  sync.Mutex

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper around a GF2
func NewHTTPWrapper(d *Device) *HTTPWrapper {
	h := &HTTPWrapper{dev: d}
	get := func(path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: http.MethodGet, Path: path}
	}
	post := func(path string) generichttp.MethodPath {
		return generichttp.MethodPath{Method: http.MethodPost, Path: path}
	}
	h.RouteTable = generichttp.RouteTable{
		post("/clear"): generichttp.Do(h.locked(d.Clear)),
		post("/start"): generichttp.Do(h.locked(d.Start)),
		post("/stop"):  generichttp.Do(h.locked(d.Stop)),
		post("/setup"): generichttp.Do(h.locked(d.Setup)),

		post("/waveform"):  generichttp.SetString(h.setWaveform),
		post("/amplitude"): generichttp.SetFloat(h.lockedFloat(d.SetAmplitude)),
		post("/frequency"): generichttp.SetSelFloat(h.lockedSelFloat(d.SetFrequency)),
		post("/phase"):     generichttp.SetSelFloat(h.lockedSelFloat(d.SetPhase)),

		get("/frequency-select"):  generichttp.GetBool(h.lockedGetBool(d.FrequencySelection)),
		post("/frequency-select"): generichttp.SetBool(h.lockedBool(d.SelectFrequency)),
		get("/phase-select"):      generichttp.GetBool(h.lockedGetBool(d.PhaseSelection)),
		post("/phase-select"):     generichttp.SetBool(h.lockedBool(d.SelectPhase)),
		get("/clock"):             generichttp.GetBool(h.lockedGetBool(d.IsClockEnabled)),
		post("/clock"):            generichttp.SetBool(h.lockedBool(d.SetClockEnabled)),
		get("/dac"):               generichttp.GetBool(h.lockedGetBool(d.IsDACEnabled)),
		post("/dac"):              generichttp.SetBool(h.lockedBool(d.SetDACEnabled)),
		get("/wavegen"):           generichttp.GetBool(h.lockedGetBool(d.IsWaveGenEnabled)),
		post("/wavegen"):          generichttp.SetBool(h.lockedBool(d.SetWaveGenEnabled)),

		get("/revision"):        generichttp.GetString(h.lockedGetString(d.HardwareRevision)),
		get("/manufacturer"):    generichttp.GetString(h.lockedGetString(d.ManufacturerDesc)),
		get("/product"):         generichttp.GetString(h.lockedGetString(d.ProductDesc)),
		get("/serial"):          generichttp.GetString(h.lockedGetString(d.SerialDesc)),
		get("/silicon-version"): generichttp.GetString(h.lockedGetString(h.siliconVersion)),

		get("/expected"): h.Expected,
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// httpError attaches an HTTP status and failure count to err.  Requests the
// device refuses before touching the bus are the client's fault.
func httpError(err error) error {
	if err == nil {
		return nil
	}
	code := http.StatusInternalServerError
	if errors.Is(err, ErrAmplitudeRange) ||
		errors.Is(err, ErrFrequencyRange) ||
		errors.Is(err, ErrPhaseValue) ||
		errors.Is(err, ErrUnknownWaveform) {
		code = http.StatusBadRequest
	}
	return generichttp.Error{Err: err, Code: code, Count: ErrorCount(err)}
}

func (h *HTTPWrapper) locked(fcn func() error) func() error {
	return func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		return httpError(fcn())
	}
}

func (h *HTTPWrapper) lockedFloat(fcn func(float64) error) func(float64) error {
	return func(f float64) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		return httpError(fcn(f))
	}
}

func (h *HTTPWrapper) lockedSelFloat(fcn func(bool, float64) error) func(bool, float64) error {
	return func(sel bool, f float64) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		return httpError(fcn(sel, f))
	}
}

func (h *HTTPWrapper) lockedBool(fcn func(bool) error) func(bool) error {
	return func(b bool) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		return httpError(fcn(b))
	}
}

func (h *HTTPWrapper) lockedGetBool(fcn func() (bool, error)) func() (bool, error) {
	return func() (bool, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		b, err := fcn()
		return b, httpError(err)
	}
}

func (h *HTTPWrapper) lockedGetString(fcn func() (string, error)) func() (string, error) {
	return func() (string, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		s, err := fcn()
		return s, httpError(err)
	}
}

func (h *HTTPWrapper) siliconVersion() (string, error) {
	v, err := h.dev.SiliconVersion()
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (h *HTTPWrapper) setWaveform(s string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return httpError(h.dev.SetWaveform(Waveform(s)))
}

// expected is the reply of the /expected route; only the quantities asked for
// are present
type expected struct {
	Amplitude *float64 `json:"amplitude,omitempty"`
	Frequency *float64 `json:"frequency,omitempty"`
	Phase     *float64 `json:"phase,omitempty"`
}

// Expected replies with the values the hardware would actually produce for
// the amplitude (Vpp), frequency (kHz) and phase (deg) query parameters.
// It does not touch the device.
func (h *HTTPWrapper) Expected(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	parse := func(key string, lo, hi float64) (*float64, error) {
		s := q.Get(key)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if !(f >= lo && f <= hi) {
			return nil, fmt.Errorf("%s: %g is not in [%g, %g]", key, f, lo, hi)
		}
		return &f, nil
	}
	var (
		out expected
		err error
	)
	if out.Amplitude, err = parse("amplitude", AmplitudeMin, AmplitudeMax); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if out.Frequency, err = parse("frequency", FrequencyMin, FrequencyMax); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if out.Phase, err = parse("phase", -math.MaxFloat64, math.MaxFloat64); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if out.Amplitude != nil {
		*out.Amplitude = ExpectedAmplitude(*out.Amplitude)
	}
	if out.Frequency != nil {
		*out.Frequency = ExpectedFrequency(*out.Frequency)
	}
	if out.Phase != nil {
		*out.Phase = ExpectedPhase(*out.Phase)
	}
	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
