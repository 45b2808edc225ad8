package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	RecordToolCall("browser_navigate", "ok", 1*time.Second)
	UpdatePoolMetrics(3, 2)
	UpdateSessionMetrics(1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"chromefleet_pool_size",
		"chromefleet_pool_available",
		"chromefleet_sessions",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %q not found in output", metric)
		}
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "go1.22")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "chromefleet_build_info") {
		t.Error("Expected chromefleet_build_info metric")
	}
	if !strings.Contains(body, "version=\"1.0.0\"") {
		t.Error("Expected version label in build_info")
	}
	if !strings.Contains(body, "go_version=\"go1.22\"") {
		t.Error("Expected go_version label in build_info")
	}
}

func TestRecordToolCall(t *testing.T) {
	RecordToolCall("browser_get_html", "ok", 1*time.Second)
	RecordToolCall("browser_get_html", "error", 500*time.Millisecond)
	RecordToolCall("browser_click", "ok", 2*time.Second)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "chromefleet_tool_calls_total") {
		t.Error("Expected chromefleet_tool_calls_total metric")
	}
	if !strings.Contains(body, "chromefleet_tool_call_duration_seconds") {
		t.Error("Expected chromefleet_tool_call_duration_seconds metric")
	}
}

func TestRecordBlock(t *testing.T) {
	RecordBlock("rate_limit")
	RecordBlock("captcha")
	RecordBlock("rate_limit")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "chromefleet_blocks_detected_total") {
		t.Error("Expected chromefleet_blocks_detected_total metric")
	}
}

func TestRecordInstanceLifecycle(t *testing.T) {
	RecordInstanceLaunched()
	RecordInstanceCrashed()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "chromefleet_instances_launched_total") {
		t.Error("Expected chromefleet_instances_launched_total metric")
	}
	if !strings.Contains(body, "chromefleet_instances_crashed_total") {
		t.Error("Expected chromefleet_instances_crashed_total metric")
	}
}

func TestUpdatePoolMetrics(t *testing.T) {
	UpdatePoolMetrics(3, 2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "chromefleet_pool_size 3") {
		t.Error("Expected pool_size to be 3")
	}
	if !strings.Contains(body, "chromefleet_pool_available 2") {
		t.Error("Expected pool_available to be 2")
	}
}

func TestUpdateSessionAndProfileMetrics(t *testing.T) {
	UpdateSessionMetrics(5)
	UpdateProfileMetrics(7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "chromefleet_sessions 5") {
		t.Error("Expected sessions to be 5")
	}
	if !strings.Contains(body, "chromefleet_profiles 7") {
		t.Error("Expected profiles to be 7")
	}
}

func TestUpdateWebSocketConnections(t *testing.T) {
	UpdateWebSocketConnections(4)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "chromefleet_websocket_connections 4") {
		t.Error("Expected websocket_connections to be 4")
	}
}

func TestStartMemoryCollector(t *testing.T) {
	stopCh := make(chan struct{})

	go StartMemoryCollector(50*time.Millisecond, stopCh)

	time.Sleep(150 * time.Millisecond)

	close(stopCh)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "chromefleet_memory_usage_bytes") {
		t.Error("Expected chromefleet_memory_usage_bytes metric")
	}
	if !strings.Contains(body, "chromefleet_memory_sys_bytes") {
		t.Error("Expected chromefleet_memory_sys_bytes metric")
	}
	if !strings.Contains(body, "chromefleet_goroutines") {
		t.Error("Expected chromefleet_goroutines metric")
	}
}
