package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_OTAObserver(t *testing.T) {
	m := New()
	m.SessionStarted(1)
	m.ChunkWritten(48)
	m.ChunkWritten(12)
	m.ImageStaged(60)

	body := scrape(t, m)
	for _, want := range []string{
		"basenode_ota_sessions_total 1",
		"basenode_ota_bytes_total 60",
		"basenode_ota_images_staged_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	return string(body)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetBuildInfo("1.0.0", 203)
	m.ConsoleCommands.WithLabelValues("dump-low").Inc()
	m.WatchOverruns(func() uint64 { return 4 })

	body := scrape(t, m)
	for _, want := range []string{
		`basenode_build_info{node_id="203",version="1.0.0"} 1`,
		`basenode_console_commands_total{command="dump-low"} 1`,
		`basenode_radio_overruns_total 4`,
		`basenode_uptime_seconds`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
