package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"proxyharvest/internal/shared/types"
	manager "proxyharvest/proxypool"
	"proxyharvest/proxypool/history"
	"proxyharvest/proxypool/model"
)

type fakeController struct {
	latest    *manager.RunResult
	triggered int
	busy      bool
	stopped   bool
}

func (f *fakeController) Latest() *manager.RunResult { return f.latest }
func (f *fakeController) Status() manager.Status     { return manager.Status{Sources: 2} }
func (f *fakeController) Trigger() error {
	if f.stopped {
		return manager.ErrStopped
	}
	if f.busy {
		return manager.ErrRunInProgress
	}
	f.triggered++
	return nil
}

type fakeHistory struct{ runs []*history.Run }

func (f *fakeHistory) ListRuns(ctx context.Context, limit int) ([]*history.Run, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func sampleResult() *manager.RunResult {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &manager.RunResult{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Candidates: 3,
		Records: []model.ProxyRecord{
			{IP: "1.1.1.1", Port: 80, Type: model.ProtocolHTTP, Working: model.Bool(true)},
			{IP: "2.2.2.2", Port: 443, Type: model.ProtocolHTTPS, Working: model.Bool(true)},
			{IP: "3.3.3.3", Port: 1080, Type: model.ProtocolSOCKS5, Working: model.Bool(true)},
		},
	}
}

func newTestServer(ctrl Controller, runs RunHistory, cfg types.WebConf) (*Server, *Hub) {
	hub := NewHub()
	return NewServer(cfg, ctrl, runs, hub), hub
}

func doRequest(t *testing.T, h http.Handler, method, target string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestProxiesEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeController{latest: sampleResult()}, nil, types.WebConf{})
	router := s.Router()

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 3},
		{"?type=http", http.StatusOK, 2},
		{"?type=socks", http.StatusOK, 1},
		{"?type=https", http.StatusOK, 1},
		{"?type=socks4", http.StatusOK, 0},
		{"?type=gopher", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, "/api/proxies"+tt.query, false)
			if w.Code != tt.code {
				t.Fatalf("Expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			var records []model.ProxyRecord
			if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(records) != tt.count {
				t.Errorf("Expected %d records, got %d", tt.count, len(records))
			}
		})
	}
}

func TestProxiesEndpoint_TextFormatAndEmpty(t *testing.T) {
	s, _ := newTestServer(&fakeController{latest: sampleResult()}, nil, types.WebConf{})
	w := doRequest(t, s.Router(), http.MethodGet, "/api/proxies?type=socks&format=text", false)
	if w.Body.String() != "3.3.3.3:1080\n" {
		t.Errorf("Unexpected text body: %q", w.Body.String())
	}

	empty, _ := newTestServer(&fakeController{}, nil, types.WebConf{})
	w = doRequest(t, empty.Router(), http.MethodGet, "/api/proxies", false)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected [] before first run, got %q", w.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(&fakeController{latest: sampleResult()}, nil, types.WebConf{User: "admin", Password: "secret"})
	router := s.Router()

	if w := doRequest(t, router, http.MethodGet, "/api/proxies", false); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, "/api/proxies", true); w.Code != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, "/healthz", false); w.Code != http.StatusOK {
		t.Errorf("Expected public healthz, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeController{latest: sampleResult()}, nil, types.WebConf{})
	w := doRequest(t, s.Router(), http.MethodGet, "/api/status", false)

	var body struct {
		Scheduler manager.Status `json:"scheduler"`
		LastRun   *RunSummary    `json:"last_run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Scheduler.Sources != 2 {
		t.Errorf("Unexpected scheduler status: %+v", body.Scheduler)
	}
	if body.LastRun == nil || body.LastRun.RunID != "run-1" || body.LastRun.Records != 3 || body.LastRun.DurationMs != 1000 {
		t.Errorf("Unexpected last run: %+v", body.LastRun)
	}
}

func TestRunsEndpoints(t *testing.T) {
	ctrl := &fakeController{}
	runs := &fakeHistory{runs: []*history.Run{{ID: "b"}, {ID: "a"}}}
	s, _ := newTestServer(ctrl, runs, types.WebConf{})
	router := s.Router()

	w := doRequest(t, router, http.MethodGet, "/api/runs?limit=1", false)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"count":1`) {
		t.Errorf("Unexpected list response %d: %s", w.Code, w.Body.String())
	}
	if w := doRequest(t, router, http.MethodGet, "/api/runs?limit=abc", false); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", w.Code)
	}

	if w := doRequest(t, router, http.MethodPost, "/api/runs", false); w.Code != http.StatusAccepted || ctrl.triggered != 1 {
		t.Errorf("Expected accepted trigger, got %d", w.Code)
	}
	ctrl.busy = true
	if w := doRequest(t, router, http.MethodPost, "/api/runs", false); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while busy, got %d", w.Code)
	}
	ctrl.stopped = true
	w = doRequest(t, router, http.MethodPost, "/api/runs", false)
	if w.Code != http.StatusServiceUnavailable || strings.Contains(w.Body.String(), "in progress") {
		t.Errorf("Expected 503 once the scheduler is stopped, got %d: %s", w.Code, w.Body.String())
	}

	noHistory, _ := newTestServer(ctrl, nil, types.WebConf{})
	if w := doRequest(t, noHistory.Router(), http.MethodGet, "/api/runs", false); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without history, got %d", w.Code)
	}
}

func TestWebSocketRunFinished(t *testing.T) {
	s, hub := newTestServer(&fakeController{}, nil, types.WebConf{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for client registration")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.BroadcastRunFinished(sampleResult())

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg struct {
		Type string     `json:"type"`
		Data RunSummary `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "run_finished" || msg.Data.RunID != "run-1" || msg.Data.Working != 3 {
		t.Errorf("Unexpected message: %+v", msg)
	}
}
