package output

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestSummary(t *testing.T) {
	s := NewSummary("Prepare")
	s.Add("x86_64")
	s.Add("ramips")
	s.Add("x86_64")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.Complete("x86_64", "x86/64") }()
	go func() { defer wg.Done(); s.Record("ramips", "", errors.New("clone failed")) }()
	wg.Wait()

	if got := s.Failed(); got != 1 {
		t.Errorf("Failed() = %d, want 1", got)
	}
	var buf bytes.Buffer
	s.Show(&buf)
	out := buf.String()
	for _, want := range []string{"Prepare", "x86_64 → x86/64", "clone failed", "Completed 1 of 2", "Failed 1 of 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary lacks %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "x86_64") > strings.Index(out, "ramips") {
		t.Error("steps not printed in registration order")
	}
}
