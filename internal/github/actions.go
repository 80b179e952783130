package github

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ActionContext is the slice of the GitHub Actions runtime a stage needs.
type ActionContext struct {
	Owner      string
	Repo       string
	RunID      string
	Job        string
	OutputFile string
	// Out receives workflow commands such as ::error::.
	Out io.Writer
}

func NewActionContext(repository, runID, job, outputFile string) (*ActionContext, error) {
	ac := &ActionContext{RunID: runID, Job: job, OutputFile: outputFile, Out: os.Stdout}
	if repository != "" {
		owner, repo, ok := strings.Cut(repository, "/")
		if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			return nil, fmt.Errorf("invalid repository %q, want owner/name", repository)
		}
		ac.Owner, ac.Repo = owner, repo
	}
	return ac, nil
}

// Repository returns "owner/name", or "" outside of a repository context.
func (a *ActionContext) Repository() string {
	if a.Owner == "" {
		return ""
	}
	return a.Owner + "/" + a.Repo
}

// SetOutput appends a step output to $GITHUB_OUTPUT. Multi-line values use
// the heredoc form. Without an output file the value is only logged.
func (a *ActionContext) SetOutput(name string, value any) error {
	v, err := commandValue(value)
	if err != nil {
		return err
	}
	log.Debug().Str("op", "github/actions").Msgf("output %s=%s", name, v)
	if a.OutputFile == "" {
		log.Info().Str("op", "github/actions").Msgf("no output file, %s=%s", name, v)
		return nil
	}
	var entry string
	if strings.ContainsAny(v, "\r\n") {
		delim := "ghadelimiter_" + uuid.NewString()
		entry = fmt.Sprintf("%s<<%s\n%s\n%s\n", name, delim, v, delim)
	} else {
		entry = fmt.Sprintf("%s=%s\n", name, v)
	}
	f, err := os.OpenFile(a.OutputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error opening output file: %w", err)
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return fmt.Errorf("error writing output %s: %w", name, err)
	}
	return f.Close()
}

func (a *ActionContext) Errorf(format string, args ...any) {
	a.command("error", fmt.Sprintf(format, args...))
}

func (a *ActionContext) Warningf(format string, args ...any) {
	a.command("warning", fmt.Sprintf(format, args...))
}

func (a *ActionContext) Noticef(format string, args ...any) {
	a.command("notice", fmt.Sprintf(format, args...))
}

func (a *ActionContext) command(kind, msg string) {
	if a.Out == nil {
		return
	}
	fmt.Fprintf(a.Out, "::%s::%s\n", kind, escapeData(msg))
}

func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	return strings.ReplaceAll(s, "\n", "%0A")
}

func commandValue(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("error encoding output value: %w", err)
	}
	return string(b), nil
}
