// Package telemetry exposes node counters in Prometheus format.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "basenode"

// Metrics holds the node's collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	PacketsReceived prometheus.Counter
	PacketBytes     prometheus.Histogram
	ConsoleCommands *prometheus.CounterVec
	Ticks           prometheus.Counter
	InitFailures    *prometheus.CounterVec
	ConfigWrites    *prometheus.CounterVec
	OTASessions     prometheus.Counter
	OTABytes        prometheus.Counter
	OTAImages       prometheus.Counter

	buildInfo *prometheus.GaugeVec
	startTime time.Time
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Inbound radio packets taken by the loop.",
		}),
		PacketBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "packet_payload_bytes",
			Help:      "Payload length of inbound radio packets.",
			Buckets:   prometheus.LinearBuckets(0, 8, 9),
		}),
		ConsoleCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_commands_total",
			Help:      "Console bytes dispatched, by command (unknown for ignored bytes).",
		}, []string{"command"}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Blink period boundaries observed.",
		}),
		InitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "init_failures_total",
			Help:      "Peripherals that failed to come up at boot.",
		}, []string{"peripheral"}),
		ConfigWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_writes_total",
			Help:      "Config record writes, by result.",
		}, []string{"result"}),
		OTASessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ota_sessions_total",
			Help:      "OTA streams started.",
		}),
		OTABytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ota_bytes_total",
			Help:      "Image bytes written to staging.",
		}),
		OTAImages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ota_images_staged_total",
			Help:      "Complete images staged.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Constant 1, labeled by version and node id.",
		}, []string{"version", "node_id"}),
	}

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since boot in seconds.",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	m.Registry.MustRegister(
		m.PacketsReceived, m.PacketBytes, m.ConsoleCommands, m.Ticks,
		m.InitFailures, m.ConfigWrites,
		m.OTASessions, m.OTABytes, m.OTAImages,
		m.buildInfo, uptime,
	)
	return m
}

// SetBuildInfo should be called once at boot.
func (m *Metrics) SetBuildInfo(version string, nodeID uint8) {
	m.buildInfo.WithLabelValues(version, strconv.Itoa(int(nodeID))).Set(1)
}

// WatchOverruns exports a link's overwritten-packet count.
func (m *Metrics) WatchOverruns(fn func() uint64) {
	m.Registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "radio_overruns_total",
		Help:      "Inbound packets lost because the previous one was still unread.",
	}, func() float64 { return float64(fn()) }))
}

// SessionStarted, ChunkWritten and ImageStaged follow OTA progress.
func (m *Metrics) SessionStarted(uint8) { m.OTASessions.Inc() }

func (m *Metrics) ChunkWritten(n int) { m.OTABytes.Add(float64(n)) }

func (m *Metrics) ImageStaged(int) { m.OTAImages.Inc() }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics endpoint started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics on %s: %w", addr, err)
	}
	return nil
}
