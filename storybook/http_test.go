package storybook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/storylink/shield"
)

func bridgeServer(t *testing.T, initialize bool) *httptest.Server {
	t.Helper()
	p := newFixture().plugin(Config{URL: "http://localhost:6006"})
	if initialize {
		if err := p.Init(context.Background()); err != nil {
			t.Fatalf("Init: %v", err)
		}
	}
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestHTTP_Process(t *testing.T) {
	srv := bridgeServer(t, true)

	resp, body := postJSON(t, srv.URL+"/process", `{"path": "src/components/Button/index.tsx"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	var data ComponentData
	if err := json.Unmarshal(body, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Links) != 2 || data.Links[0].Type != "storybook" {
		t.Fatalf("links = %+v", data.Links)
	}
}

func TestHTTP_ProcessNotReady(t *testing.T) {
	srv := bridgeServer(t, false)

	resp, body := postJSON(t, srv.URL+"/process", `{"path": "a.tsx"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var e map[string]string
	json.Unmarshal(body, &e)
	if !strings.Contains(e["error"], "not initialized") {
		t.Fatalf("error body = %s", body)
	}
}

func TestHTTP_Supports(t *testing.T) {
	srv := bridgeServer(t, false)

	_, body := postJSON(t, srv.URL+"/supports", `{"path": "a.tsx", "storybook": {"kind": "Button"}}`)
	var resp struct {
		Supported bool `json:"supported"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || !resp.Supported {
		t.Fatalf("supports = %s (%v)", body, err)
	}

	_, body = postJSON(t, srv.URL+"/supports", `{"path": "a.tsx"}`)
	json.Unmarshal(body, &resp)
	if resp.Supported {
		t.Fatalf("supports without stories or selector = %s", body)
	}
}

func TestHTTP_BadBody(t *testing.T) {
	p := newFixture().plugin(Config{})
	h := p.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	big := `{"path": "` + strings.Repeat("a", 2<<20) + `"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(big)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHTTP_StoriesAndHealth(t *testing.T) {
	srv := bridgeServer(t, true)

	resp, err := http.Get(srv.URL + "/stories")
	if err != nil {
		t.Fatalf("GET /stories: %v", err)
	}
	var stories []Story
	json.NewDecoder(resp.Body).Decode(&stories)
	resp.Body.Close()
	if len(stories) != 3 || stories[0].ID != "atoms-button--primary" {
		t.Fatalf("stories = %+v", stories)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	notReady := bridgeServer(t, false)
	resp, err = http.Get(notReady.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz before init = %d", resp.StatusCode)
	}
}

func TestHTTP_CallsCarryRunID(t *testing.T) {
	f := newFixture()
	p := f.plugin(Config{URL: "http://localhost:6006"})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(`{"path": "a.tsx"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	logs := f.logs.String()
	i := strings.Index(logs, "endpoint=process")
	if i < 0 {
		t.Fatalf("missing call log: %s", logs)
	}
	if call := logs[i:]; !strings.Contains(call, "transport=http") || !strings.Contains(call, "run_id=run_test") {
		t.Errorf("call log = %s", call)
	}
}

func TestWriteJSON_LogsEncodeFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := shield.RequestID(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, math.Inf(1))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stories", nil))
	out := buf.String()
	if !strings.Contains(out, "storybook: write response") || !strings.Contains(out, "request_id=req_") {
		t.Fatalf("encode failure not logged with request logger: %s", out)
	}
}
