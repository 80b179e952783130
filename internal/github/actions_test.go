package github

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestNewActionContext(t *testing.T) {
	ac, err := NewActionContext("openwrt-k/builds", "123", "base-builds", "")
	if err != nil {
		t.Fatal(err)
	}
	if ac.Owner != "openwrt-k" || ac.Repo != "builds" || ac.Repository() != "openwrt-k/builds" {
		t.Errorf("unexpected context %+v", ac)
	}
	for _, bad := range []string{"noslash", "/repo", "owner/", "a/b/c"} {
		if _, err := NewActionContext(bad, "", "", ""); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
	local, _ := NewActionContext("", "", "", "")
	if local.Repository() != "" {
		t.Error("empty repository should stay empty")
	}
}

func TestSetOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "output")
	ac, _ := NewActionContext("o/r", "1", "job", out)
	if err := ac.SetOutput("cache-key", "base-builds-v23.05.2-x86-1"); err != nil {
		t.Fatal(err)
	}
	if err := ac.SetOutput("use-cache", true); err != nil {
		t.Fatal(err)
	}
	if err := ac.SetOutput("notes", "line one\nline two"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(out)
	re := regexp.MustCompile(`^cache-key=base-builds-v23\.05\.2-x86-1\nuse-cache=true\nnotes<<(ghadelimiter_[0-9a-f-]+)\nline one\nline two\n(ghadelimiter_[0-9a-f-]+)\n$`)
	m := re.FindStringSubmatch(string(data))
	if m == nil {
		t.Fatalf("unexpected output file:\n%s", data)
	}
	if m[1] != m[2] {
		t.Errorf("heredoc delimiters differ: %s vs %s", m[1], m[2])
	}
}

func TestWorkflowCommands(t *testing.T) {
	var buf bytes.Buffer
	ac := &ActionContext{Out: &buf}
	ac.Errorf("build failed: %d%%\nsee log", 50)
	ac.Warningf("config %s does not exist", "foo")
	want := "::error::build failed: 50%25%0Asee log\n::warning::config foo does not exist\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
