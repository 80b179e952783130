package gitclone

import (
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// authFor returns token auth for the known forges. Other hosts and an empty
// token clone anonymously.
func authFor(repoURL, token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return nil
	}
	switch strings.ToLower(u.Hostname()) {
	case "github.com", "gitlab.com":
		return &http.BasicAuth{Username: "oauth2", Password: token}
	case "bitbucket.org":
		return &http.BasicAuth{Username: "x-token-auth", Password: token}
	}
	return nil
}
