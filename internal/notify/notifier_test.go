package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type recordingSender struct {
	name   string
	titles []string
	fail   bool
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	if r.fail {
		return errors.New("boom")
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersBelowMinSeverity(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, SeverityWarning, testLogger())

	if err := n.Notify(context.Background(), SeverityInfo, "routine", "m"); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), SeverityEmergency, "rollback failed", "m"); err != nil {
		t.Fatal(err)
	}

	if len(s.titles) != 1 {
		t.Fatalf("delivered %d alerts, want 1", len(s.titles))
	}
	if !strings.Contains(s.titles[0], "rollback failed") {
		t.Errorf("delivered title = %q", s.titles[0])
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &recordingSender{name: "bad", fail: true}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, SeverityInfo, testLogger())

	err := n.Notify(context.Background(), SeverityError, "order failed", "m")
	if err == nil {
		t.Fatal("expected combined error from the failing sender")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error should name the failed sender: %v", err)
	}
	if len(good.titles) != 1 {
		t.Error("healthy sender did not receive the alert")
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"info":      SeverityInfo,
		"SUCCESS":   SeveritySuccess,
		" warning ": SeverityWarning,
		"error":     SeverityError,
		"emergency": SeverityEmergency,
		"bogus":     SeverityInfo,
	}
	for in, want := range cases {
		if got := ParseSeverity(in); got != want {
			t.Errorf("ParseSeverity(%q) = %v, want %v", in, got, want)
		}
	}
}
