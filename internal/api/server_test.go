package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petems/admute/internal/app"
	"github.com/petems/admute/internal/audio"
	"github.com/petems/admute/internal/pipeline"
	"github.com/rs/zerolog"
)

type mockController struct {
	mu        sync.Mutex
	listening bool
	device    string
	listErr   error
}

func (m *mockController) StartListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening {
		return fmt.Errorf("%w: start while running", pipeline.ErrInvalidTransition)
	}
	m.listening = true
	return nil
}

func (m *mockController) StopListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.listening {
		return pipeline.ErrNotRunning
	}
	m.listening = false
	return nil
}

func (m *mockController) Status() app.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := "idle"
	if m.listening {
		state = "running"
	}
	return app.Status{State: state, Listening: m.listening, Device: m.device}
}

func (m *mockController) ListDevices() ([]audio.AudioDevice, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return []audio.AudioDevice{{ID: "default", Name: "Built-in Microphone", Default: true}}, nil
}

func (m *mockController) SetDevice(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = id
	return nil
}

func do(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestHealth(t *testing.T) {
	s := NewServer(&mockController{}, zerolog.Nop())
	code, body := do(t, s, http.MethodGet, "/healthz", "")
	if code != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("unexpected response %d %s", code, body)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := NewServer(&mockController{}, zerolog.Nop())

	tests := []struct {
		method string
		path   string
		code   int
		state  string
	}{
		{http.MethodGet, "/api/status", http.StatusOK, "idle"},
		{http.MethodPost, "/api/session/start", http.StatusOK, "running"},
		{http.MethodPost, "/api/session/start", http.StatusConflict, ""},
		{http.MethodPost, "/api/session/stop", http.StatusOK, "idle"},
		{http.MethodPost, "/api/session/stop", http.StatusConflict, ""},
	}

	for _, tt := range tests {
		code, body := do(t, s, tt.method, tt.path, "")
		if code != tt.code {
			t.Fatalf("%s %s: expected %d, got %d (%s)", tt.method, tt.path, tt.code, code, body)
		}
		if tt.state == "" {
			var e map[string]string
			if err := json.Unmarshal(body, &e); err != nil || e["error"] == "" {
				t.Errorf("%s %s: expected error body, got %s", tt.method, tt.path, body)
			}
			continue
		}
		var st app.Status
		if err := json.Unmarshal(body, &st); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if st.State != tt.state {
			t.Errorf("%s %s: expected state %s, got %s", tt.method, tt.path, tt.state, st.State)
		}
	}
}

func TestListDevices(t *testing.T) {
	s := NewServer(&mockController{}, zerolog.Nop())
	code, body := do(t, s, http.MethodGet, "/api/devices", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var devices []audio.AudioDevice
	if err := json.Unmarshal(body, &devices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 1 || !devices[0].Default {
		t.Errorf("unexpected devices %+v", devices)
	}

	s = NewServer(&mockController{listErr: errors.New("portaudio not initialised")}, zerolog.Nop())
	if code, _ := do(t, s, http.MethodGet, "/api/devices", ""); code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", code)
	}
}

func TestSetDevice(t *testing.T) {
	ctrl := &mockController{}
	s := NewServer(ctrl, zerolog.Nop())

	code, _ := do(t, s, http.MethodPut, "/api/device", `{"id":"usb"}`)
	if code != http.StatusOK || ctrl.Status().Device != "usb" {
		t.Errorf("expected device usb, got %d %q", code, ctrl.Status().Device)
	}
	if code, _ := do(t, s, http.MethodPut, "/api/device", `{not json`); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(&mockController{}, zerolog.Nop())
	code, body := do(t, s, http.MethodGet, "/metrics", "")
	if code != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("unexpected metrics response %d", code)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s := NewServer(&mockController{}, zerolog.Nop())
	if code, _ := do(t, s, http.MethodGet, "/ws/events", ""); code != http.StatusUpgradeRequired {
		t.Errorf("expected 426, got %d", code)
	}
}

func TestListenStopsWithContext(t *testing.T) {
	s := NewServer(&mockController{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Listen(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
