package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
)

type step struct {
	name    string
	status  string
	message string
	err     error
}

// Summary collects the outcome of named steps, possibly from several
// goroutines, and prints them once at the end of a command.
type Summary struct {
	mu    sync.Mutex
	title string
	steps []*step
}

func NewSummary(title string) *Summary {
	return &Summary{title: title}
}

func (s *Summary) find(name string) *step {
	for _, st := range s.steps {
		if st.name == name {
			return st
		}
	}
	st := &step{name: name, status: StatusPending}
	s.steps = append(s.steps, st)
	return st
}

// Add registers name as pending. Steps print in the order they were first seen.
func (s *Summary) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.find(name)
}

func (s *Summary) Complete(name, message string) {
	s.set(name, StatusSuccess, message, nil)
}

func (s *Summary) Warn(name, message string) {
	s.set(name, StatusWarning, message, nil)
}

func (s *Summary) Fail(name string, err error) {
	s.set(name, StatusError, "", err)
}

// Record completes name when err is nil and fails it otherwise.
func (s *Summary) Record(name, message string, err error) {
	if err != nil {
		s.Fail(name, err)
		return
	}
	s.Complete(name, message)
}

func (s *Summary) set(name, status, message string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.find(name)
	st.status, st.message, st.err = status, message, err
}

// Failed reports how many steps ended in an error.
func (s *Summary) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.steps {
		if st.status == StatusError {
			n++
		}
	}
	return n
}

func statusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return FSuccess(StyleSymbols["pass"])
	case StatusError:
		return FError(StyleSymbols["fail"])
	case StatusWarning:
		return FWarning(StyleSymbols["warning"])
	}
	return FPending(StyleSymbols["pending"])
}

// Show writes the summary to w.
func (s *Summary) Show(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(w, headerStyle.Render(s.title))
	fmt.Fprintln(w, detailStyle.Render(strings.Repeat(StyleSymbols["hline"], max(len(s.title), 20))))
	var done, failed int
	for _, st := range s.steps {
		line := fmt.Sprintf("  %s %s", statusIndicator(st.status), st.name)
		if st.message != "" {
			line += " " + FDetail(StyleSymbols["arrow"]+" "+st.message)
		}
		fmt.Fprintln(w, line)
		if st.err != nil {
			fmt.Fprintln(w, "    "+FError(st.err.Error()))
		}
		switch st.status {
		case StatusSuccess, StatusWarning:
			done++
		case StatusError:
			failed++
		}
	}
	fmt.Fprintln(w, "  "+FSuccess(fmt.Sprintf("Completed %d of %d", done, len(s.steps))))
	if failed > 0 {
		fmt.Fprintln(w, "  "+FError(fmt.Sprintf("Failed %d of %d", failed, len(s.steps))))
	}
}
