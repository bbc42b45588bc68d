package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/golaborate/gf2/cp2130"
	"github.com/golaborate/gf2/generichttp"
	"github.com/golaborate/gf2/gf2"
	"github.com/golaborate/gf2/server/middleware/locker"
)

// Config is a struct that holds the initialization parameters of the server.
// It is populated from defaults and gf2srv.yml.
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Serial is the USB serial number of the GF2 to open.  Empty opens the
	// first one found.
	Serial string `koanf:"Serial" yaml:"Serial"`

	// Endpoint is the path the routes of the GF2 are served under,
	// ex. Endpoint="/omc/gf2" will produce routes of /omc/gf2/amplitude, etc.
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Mock replaces the hardware with an in-memory bridge
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// ClearOnStart runs Clear after the SPI channels are set up
	ClearOnStart bool `koanf:"ClearOnStart" yaml:"ClearOnStart"`

	// Metrics serves Prometheus metrics on /metrics
	Metrics bool `koanf:"Metrics" yaml:"Metrics"`
}

// OpenDevice opens the GF2 described by c
func OpenDevice(c Config) (*gf2.Device, error) {
	if c.Mock {
		return gf2.New(cp2130.NewMock(gf2.VID, gf2.PID, "MOCK")), nil
	}
	return gf2.Open(c.Serial)
}

// Prepare configures both SPI channels of d and, if clear is true, brings the
// generator to its cleared state.  Clear is attempted even if setup fails.
func Prepare(d *gf2.Device, clear bool) error {
	err := d.Setup()
	if clear {
		err = errors.Join(err, d.Clear())
	}
	return err
}

// metrics counts handled requests and the device failures behind them
type metrics struct {
	requests *prometheus.CounterVec
	failures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gf2_http_requests_total",
			Help: "HTTP requests handled, by path and status class",
		}, []string{"path", "code"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gf2_device_failures_total",
			Help: "Failed steps of device operations requested over HTTP",
		}),
	}
	reg.MustRegister(m.requests, m.failures)
	return m
}

// Instrument is an HTTP middleware that records every request
func (m *metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(routeLabel(r), strconv.Itoa(status/100)+"xx").Inc()
		if n, err := strconv.Atoi(ww.Header().Get(generichttp.ErrorCountHeader)); err == nil {
			m.failures.Add(float64(n))
		}
	})
}

// routeLabel returns the route pattern that served r, so that unknown paths
// share one series
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// BuildMux constructs a chi router serving d under c.Endpoint, with a lock
// and, if c.Metrics is set, Prometheus metrics on /metrics.  The root serves
// /endpoints, which returns a map of the sub-router to its routes as JSON.
func BuildMux(c Config, d *gf2.Device) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	if c.Metrics {
		reg := prometheus.NewRegistry()
		root.Use(newMetrics(reg).Instrument)
		root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	httper := gf2.NewHTTPWrapper(d)
	lock := locker.New()
	locker.Inject(httper.RT(), lock)

	hndlS := generichttp.SubMuxSanitize(c.Endpoint)
	supergraph := map[string][]string{hndlS: httper.RT().Endpoints()}

	r := chi.NewRouter()
	r.Use(lock.Check)
	httper.RT().Bind(r)
	root.Mount(hndlS, r)

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
