package multi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crimson-sun/plantpulse/internal/model"
)

// mockOutput records calls for test assertions.
type mockOutput struct {
	got    []model.Assessment
	closed bool
	err    error // if set, Write and Close return this error
}

func (m *mockOutput) Write(_ context.Context, a model.Assessment) error {
	m.got = append(m.got, a)
	return m.err
}

func (m *mockOutput) Close() error {
	m.closed = true
	return m.err
}

func testAssessment(plant, label string) model.Assessment {
	return model.Assessment{PlantID: plant, Label: label, Timestamp: time.Now()}
}

func TestFanOutDeliversToAll(t *testing.T) {
	a, b, c := &mockOutput{}, &mockOutput{}, &mockOutput{}
	m := New(a, b, c)

	if err := m.Write(context.Background(), testAssessment("fern", "Low Stress")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, out := range []*mockOutput{a, b, c} {
		if len(out.got) != 1 {
			t.Fatalf("output %d: got %d assessments, want 1", i, len(out.got))
		}
		if out.got[0].Label != "Low Stress" {
			t.Errorf("output %d: got label %q", i, out.got[0].Label)
		}
	}
}

func TestErrorDoesNotPreventDelivery(t *testing.T) {
	failing := &mockOutput{err: errors.New("disk full")}
	ok := &mockOutput{}
	m := New(failing, ok)

	err := m.Write(context.Background(), testAssessment("fern", "High Stress"))
	if err == nil {
		t.Fatal("expected error from failing output")
	}
	if len(ok.got) != 1 {
		t.Fatal("healthy output should still receive the assessment")
	}
}

func TestCloseCallsAllOutputs(t *testing.T) {
	a, b := &mockOutput{}, &mockOutput{}
	if err := New(a, b).Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || !b.closed {
		t.Fatal("expected all outputs closed")
	}
}

func TestCloseCollectsErrors(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	err := New(&mockOutput{err: e1}, &mockOutput{err: e2}).Close()
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected joined errors, got %v", err)
	}
}
