package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crimson-sun/plantpulse/internal/engine"
	"github.com/crimson-sun/plantpulse/internal/engine/cache"
	"github.com/crimson-sun/plantpulse/internal/engine/classifier"
	"github.com/crimson-sun/plantpulse/internal/engine/encoder"
	"github.com/crimson-sun/plantpulse/internal/engine/inference"
	"github.com/crimson-sun/plantpulse/internal/model"
)

// fakeClassifier records the observation it was given and answers with
// a fixed assessment or error.
type fakeClassifier struct {
	mu    sync.Mutex
	ready bool
	got   model.Observation
	label string
	err   error
	panic bool
}

func (f *fakeClassifier) Process(_ context.Context, obs model.Observation) (model.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	f.got = obs
	if f.err != nil {
		return model.Assessment{}, f.err
	}
	return model.Assessment{
		ID:            "a-1",
		PlantID:       obs.PlantID,
		Label:         f.label,
		ClassIndex:    2,
		Confidence:    0.7,
		Probabilities: []float32{0.1, 0.2, 0.7},
	}, nil
}

func (f *fakeClassifier) Ready() bool { return f.ready }

type recordingOutput struct {
	mu  sync.Mutex
	got []model.Assessment
}

func (o *recordingOutput) Write(_ context.Context, a model.Assessment) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, a)
	return nil
}

func (o *recordingOutput) Close() error { return nil }

func newTestServer(cls Classifier, out *recordingOutput) http.Handler {
	cfg := Config{AllowedOrigins: []string{"*"}, MaxBodyBytes: 1024}
	if out == nil {
		return New(cfg, cls, nil).Handler()
	}
	return New(cfg, cls, out).Handler()
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("response is not JSON: %q", rec.Body.String())
		}
	}
	return rec, payload
}

func TestHealth(t *testing.T) {
	for _, ready := range []bool{false, true} {
		h := newTestServer(&fakeClassifier{ready: ready}, nil)
		rec, body := do(t, h, http.MethodGet, "/health", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		want := "unloaded"
		if ready {
			want = "ready"
		}
		if body["status"] != "healthy" || body["model"] != want {
			t.Errorf("ready=%v: body = %v", ready, body)
		}
	}
}

func TestStressJSON(t *testing.T) {
	fc := &fakeClassifier{label: "High Stress"}
	out := &recordingOutput{}
	h := newTestServer(fc, out)

	rec, body := do(t, h, http.MethodPost, "/api/stress?plant_id=fern", "application/json",
		`{"Soil_Moisture": 12.0, "Humidity": 40}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if body["message"] != "High Stress" {
		t.Errorf("message = %v", body["message"])
	}
	if _, ok := body["probabilities"]; ok {
		t.Error("probabilities should only appear with detail=true")
	}
	if len(body) != 1 {
		t.Errorf("plain response should carry only the label: %v", body)
	}
	if fc.got.PlantID != "fern" || fc.got.Source != "http" || len(fc.got.Values) != 2 {
		t.Errorf("observation = %+v", fc.got)
	}
	if len(out.got) != 1 || out.got[0].Label != "High Stress" {
		t.Errorf("output not written: %+v", out.got)
	}
}

func TestStressGETWithBody(t *testing.T) {
	fc := &fakeClassifier{label: "Low Stress"}
	rec, body := do(t, newTestServer(fc, nil), http.MethodGet, "/api/stress", "application/json", `{"Soil_pH": 6.5}`)
	if rec.Code != http.StatusOK || body["message"] != "Low Stress" {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
}

func TestStressDetail(t *testing.T) {
	h := newTestServer(&fakeClassifier{label: "High Stress"}, nil)
	rec, body := do(t, h, http.MethodPost, "/api/stress?detail=true", "application/json", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	probs, ok := body["probabilities"].([]any)
	if !ok || len(probs) != 3 {
		t.Fatalf("probabilities = %v", body["probabilities"])
	}
	if body["confidence"] == nil || body["class_index"] != float64(2) || body["id"] != "a-1" {
		t.Errorf("detail fields missing: %v", body)
	}
}

func TestStressFeaturesArray(t *testing.T) {
	fc := &fakeClassifier{label: "Low Stress"}
	do(t, newTestServer(fc, nil), http.MethodPost, "/api/stress", "application/json", `{"features": [1,2,3]}`)
	if !fc.got.Positional() || len(fc.got.Vector) != 3 {
		t.Fatalf("expected positional observation, got %+v", fc.got)
	}
}

func TestStressForm(t *testing.T) {
	fc := &fakeClassifier{label: "Medium Stress"}
	form := url.Values{"Soil_Moisture": {"33"}, "Humidity": {"70"}, "plant_id": {"basil"}}
	rec, body := do(t, newTestServer(fc, nil), http.MethodPost, "/api/stress",
		"application/x-www-form-urlencoded", form.Encode())
	if rec.Code != http.StatusOK || body["message"] != "Medium Stress" {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if fc.got.PlantID != "basil" || fc.got.Values["Soil_Moisture"] != "33" || len(fc.got.Values) != 2 {
		t.Errorf("observation = %+v", fc.got)
	}
}

func TestStressFormFeatures(t *testing.T) {
	fc := &fakeClassifier{label: "Low Stress"}
	form := url.Values{"features": {"1, 2,3"}}
	do(t, newTestServer(fc, nil), http.MethodPost, "/api/stress", "application/x-www-form-urlencoded", form.Encode())
	if len(fc.got.Vector) != 3 || fc.got.Vector[1] != "2" {
		t.Fatalf("vector = %v", fc.got.Vector)
	}
}

func TestStressQueryString(t *testing.T) {
	fc := &fakeClassifier{label: "Low Stress"}
	do(t, newTestServer(fc, nil), http.MethodGet, "/api/stress?Soil_pH=6.1&detail=false", "", "")
	if len(fc.got.Values) != 1 || fc.got.Values["Soil_pH"] != "6.1" {
		t.Fatalf("values = %v", fc.got.Values)
	}
}

func TestStressErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"shape", &model.ShapeMismatchError{Want: 11, Got: 10}, 400, "shape_mismatch"},
		{"value", &model.InvalidValueError{Feature: "Soil_pH", Value: "acidic", Err: errors.New("not a number")}, 400, "invalid_value"},
		{"load", &model.LoadError{Path: "m.onnx", Err: errors.New("missing")}, 503, "load"},
		{"inference", &model.InferenceError{Err: errors.New("timeout")}, 500, "inference"},
		{"other", errors.New("surprise"), 500, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &recordingOutput{}
			h := newTestServer(&fakeClassifier{err: fmt.Errorf("engine: %w", tt.err)}, out)
			rec, body := do(t, h, http.MethodPost, "/api/stress", "application/json", `{}`)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if body["success"] != false || body["kind"] != tt.kind {
				t.Errorf("body = %v", body)
			}
			if msg, _ := body["message"].(string); msg == "" {
				t.Error("empty error message")
			}
			if len(out.got) != 0 {
				t.Error("failed classification must not reach the output")
			}
		})
	}
}

func TestStressMalformedJSON(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeClassifier{}, nil), http.MethodPost, "/api/stress", "application/json", `{"Soil_pH":`)
	if rec.Code != http.StatusBadRequest || body["kind"] != "invalid_value" {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
}

func TestStressBodyTooLarge(t *testing.T) {
	big := `{"x":"` + strings.Repeat("a", 2048) + `"}`
	rec, _ := do(t, newTestServer(&fakeClassifier{}, nil), http.MethodPost, "/api/stress", "application/json", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestStressMethodNotAllowed(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeClassifier{}, nil), http.MethodDelete, "/api/stress", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != "GET, POST" {
		t.Errorf("Allow = %q", got)
	}
	if _, ok := body["kind"]; ok {
		t.Errorf("method errors carry no reading kind, got %v", body["kind"])
	}
	if body["success"] != false {
		t.Errorf("success = %v", body["success"])
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&fakeClassifier{}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/stress", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	h := New(Config{AllowedOrigins: []string{"https://plants.example"}}, &fakeClassifier{}, nil).Handler()
	for origin, want := range map[string]string{
		"https://plants.example": "https://plants.example",
		"https://evil.example":   "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: allow-origin = %q, want %q", origin, got, want)
		}
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestServer(&fakeClassifier{}, nil)
	rec, _ := do(t, h, http.MethodGet, "/health", "", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no request id assigned")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Errorf("client request id not reused: %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestRecoveryFromPanic(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeClassifier{panic: true}, nil), http.MethodPost, "/api/stress", "application/json", `{}`)
	if rec.Code != http.StatusInternalServerError || body["kind"] != "internal" {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
}

// --- against the real engine with a stub model ---

type stubBackend struct{}

func (stubBackend) InputDim() int   { return 11 }
func (stubBackend) NumClasses() int { return 3 }
func (stubBackend) Close() error    { return nil }
func (stubBackend) Run([]float32) ([]float32, error) {
	return []float32{0.2, 0.5, 0.3}, nil
}

func newEngineServer(t *testing.T, loader inference.Loader) http.Handler {
	t.Helper()
	svc := inference.NewService("stub.onnx", loader, classifier.New(encoder.DefaultLabels), len(encoder.DefaultFeatures))
	c, _ := cache.New(0)
	eng := engine.New(encoder.New(encoder.DefaultFeatures), svc, c)
	t.Cleanup(func() { eng.Close() })
	return newTestServer(eng, nil)
}

func TestEngineMissingFeature(t *testing.T) {
	h := newEngineServer(t, func() (inference.Backend, error) { return stubBackend{}, nil })
	rec, body := do(t, h, http.MethodPost, "/api/stress", "application/json", `{"Soil_Moisture": 20}`)
	if rec.Code != http.StatusBadRequest || body["kind"] != "shape_mismatch" {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "Electrochemical_Signal") {
		t.Errorf("message should name missing slots: %q", msg)
	}
}

func TestEnginePositional(t *testing.T) {
	h := newEngineServer(t, func() (inference.Backend, error) { return stubBackend{}, nil })
	rec, body := do(t, h, http.MethodPost, "/api/stress", "application/json",
		`{"features": [30, 24, 21, 60, 500, 6.5, 30, 25, 35, 40, 1.1]}`)
	if rec.Code != http.StatusOK || body["message"] != "Medium Stress" {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}

	rec, body = do(t, h, http.MethodPost, "/api/stress", "application/json", `{"features": [30, 24]}`)
	if rec.Code != http.StatusBadRequest || body["kind"] != "shape_mismatch" {
		t.Fatalf("short vector: status = %d, body = %v", rec.Code, body)
	}
}

func TestEngineInvalidValue(t *testing.T) {
	h := newEngineServer(t, func() (inference.Backend, error) { return stubBackend{}, nil })
	rec, body := do(t, h, http.MethodPost, "/api/stress", "application/json",
		`{"features": [30, 24, 21, 60, 500, "acidic", 30, 25, 35, 40, 1.1]}`)
	if rec.Code != http.StatusBadRequest || body["kind"] != "invalid_value" {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
}

func TestEngineModelUnavailable(t *testing.T) {
	h := newEngineServer(t, func() (inference.Backend, error) {
		return nil, errors.New("no such file")
	})
	rec, body := do(t, h, http.MethodPost, "/api/stress", "application/json",
		`{"features": [30, 24, 21, 60, 500, 6.5, 30, 25, 35, 40, 1.1]}`)
	if rec.Code != http.StatusServiceUnavailable || body["kind"] != "load" {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
}

func TestServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := New(Config{AllowedOrigins: []string{"*"}}, &fakeClassifier{ready: true}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = client.Get("http://" + ln.Addr().String() + "/health")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"ready"`) {
		t.Errorf("body = %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
