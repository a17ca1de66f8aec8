package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/crimson-sun/plantpulse/internal/config"
	"github.com/crimson-sun/plantpulse/internal/engine"
	"github.com/crimson-sun/plantpulse/internal/engine/inference"
	"github.com/crimson-sun/plantpulse/internal/logging"
	"github.com/crimson-sun/plantpulse/internal/output"
	"github.com/crimson-sun/plantpulse/internal/output/stdout"
)

type fixedBackend struct{}

func (fixedBackend) InputDim() int                      { return 11 }
func (fixedBackend) NumClasses() int                    { return 3 }
func (fixedBackend) Close() error                       { return nil }
func (fixedBackend) Run(_ []float32) ([]float32, error) { return []float32{0.1, 0.7, 0.2}, nil }

func stubEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.Build(engine.Config{
		Loader: func() (inference.Backend, error) { return fixedBackend{}, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

const goodLine = `{"plant_id":"p1","features":[30,25,21,55,600,6.5,30,25,30,40,1]}`

func TestClassifyLines(t *testing.T) {
	var buf bytes.Buffer
	out := stdout.NewWriter(&buf, output.Minimal, false)

	in := strings.NewReader(goodLine + "\n\n" + goodLine + "\n")
	if err := classifyLines(context.Background(), stubEngine(t), out, in); err != nil {
		t.Fatalf("classifyLines: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 assessments, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "Medium Stress") {
		t.Errorf("unexpected output: %s", lines[0])
	}
}

func TestClassifyLinesSkipsBadLines(t *testing.T) {
	var buf bytes.Buffer
	out := stdout.NewWriter(&buf, output.Minimal, false)

	in := strings.NewReader("not json\n" + goodLine + "\n" + `{"features":[1,2]}` + "\n")
	err := classifyLines(context.Background(), stubEngine(t), out, in)
	if err == nil || !strings.Contains(err.Error(), "2 of 3") {
		t.Fatalf("expected 2 of 3 failures, got %v", err)
	}
	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Errorf("good line should still be written, got %d lines", n)
	}
}

func TestClassifyLinesCountsOnlyReadings(t *testing.T) {
	var buf bytes.Buffer
	out := stdout.NewWriter(&buf, output.Minimal, false)

	in := strings.NewReader("\n\nnot json\n\n" + goodLine + "\n\n")
	err := classifyLines(context.Background(), stubEngine(t), out, in)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 readings") {
		t.Fatalf("expected 1 of 2 readings failed, got %v", err)
	}
}

func TestStartEngineLogsLoadOnce(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(logging.New(&logs, true, slog.LevelDebug))
	t.Cleanup(func() { slog.SetDefault(prev) })

	eng, err := startEngine(context.Background(), engine.Config{
		ModelPath: "stub.onnx",
		Loader:    func() (inference.Backend, error) { return fixedBackend{}, nil },
	})
	if err != nil {
		t.Fatalf("startEngine: %v", err)
	}
	defer eng.Close()

	if !eng.Ready() {
		t.Fatal("engine should be loaded eagerly")
	}
	if n := strings.Count(logs.String(), `"msg":"model loaded"`); n != 1 {
		t.Errorf("model loaded logged %d times, want 1:\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), `"msg":"schema active"`) {
		t.Errorf("missing schema log:\n%s", logs.String())
	}
}

func TestStartEngineRejectsIncompatibleModel(t *testing.T) {
	_, err := startEngine(context.Background(), engine.Config{
		ModelPath: "wide.onnx",
		Loader:    func() (inference.Backend, error) { return wideBackend{}, nil },
	})
	if err == nil {
		t.Fatal("expected load error for 12-input model")
	}
}

type wideBackend struct{ fixedBackend }

func (wideBackend) InputDim() int { return 12 }

func TestObservationFromSets(t *testing.T) {
	obs, err := observationFromSets([]string{"Soil_Moisture=12.5", " Humidity =40"})
	if err != nil {
		t.Fatal(err)
	}
	if obs.Values["Soil_Moisture"] != "12.5" || obs.Values["Humidity"] != "40" {
		t.Errorf("values = %v", obs.Values)
	}
	if _, err := observationFromSets([]string{"Soil_Moisture"}); err == nil {
		t.Error("expected error for missing '='")
	}
	if _, err := observationFromSets([]string{"=3"}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestConnectorConfig(t *testing.T) {
	mq := connectorConfig(config.ConnectorConfig{
		Provider: "mqtt",
		Broker:   "tcp://broker:1883",
		Password: "secret",
		Topic:    "greenhouse/+/readings",
		ClientID: "pp",
	})
	if mq.Endpoint != "tcp://broker:1883" || mq.APIKey != "secret" || mq.Extra["topic"] != "greenhouse/+/readings" {
		t.Errorf("mqtt config = %+v", mq)
	}

	gw := connectorConfig(config.ConnectorConfig{
		Provider:     "gateway",
		Endpoint:     "https://gw.example",
		APIKey:       "tok",
		PollInterval: 10 * time.Second,
	})
	if gw.Endpoint != "https://gw.example" || gw.APIKey != "tok" || gw.Extra["poll_interval"] != "10s" {
		t.Errorf("gateway config = %+v", gw)
	}
}

func TestSchemaCommand(t *testing.T) {
	t.Setenv("PLANTPULSE_SCHEMA_PATH", "")
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"schema"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("schema: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"Soil_Moisture", "Electrochemical_Signal", "High Stress", "float_input"} {
		if !strings.Contains(got, want) {
			t.Errorf("schema output missing %q", want)
		}
	}
}
