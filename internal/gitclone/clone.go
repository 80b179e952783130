package gitclone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog/log"
)

var ErrRefNotFound = errors.New("reference not found")

type Options struct {
	// Branch to check out; a tag name is accepted too. Empty uses the remote HEAD.
	Branch string
	// Depth limits history; 0 clones everything.
	Depth int
	// Token authenticates against github.com, gitlab.com and bitbucket.org.
	Token string
}

type progressLog struct {
	url string
}

func (p *progressLog) Write(data []byte) (int, error) {
	message := strings.TrimSpace(string(data))
	if message != "" {
		log.Debug().Str("op", "gitclone/clone").Msgf("%s: %s", p.url, message)
	}
	return len(data), nil
}

// Clone clones repoURL into path. When Branch names a tag rather than a
// branch the clone is retried with the tag reference.
func Clone(ctx context.Context, repoURL, path string, opts Options) error {
	log.Info().Str("op", "gitclone/clone").Msgf("cloning %s into %s", repoURL, path)
	cloneOpts := &git.CloneOptions{
		URL:          repoURL,
		Auth:         authFor(repoURL, opts.Token),
		Progress:     &progressLog{url: repoURL},
		Depth:        opts.Depth,
		SingleBranch: opts.Branch != "",
	}
	if opts.Branch == "" {
		_, err := git.PlainCloneContext(ctx, path, false, cloneOpts)
		if err != nil {
			return fmt.Errorf("git clone %s failed: %w", repoURL, err)
		}
		return nil
	}

	var lastErr error
	for _, ref := range []plumbing.ReferenceName{plumbing.NewBranchReferenceName(opts.Branch), plumbing.NewTagReferenceName(opts.Branch)} {
		o := *cloneOpts
		o.ReferenceName = ref
		_, err := git.PlainCloneContext(ctx, path, false, &o)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Debug().Str("op", "gitclone/clone").Msgf("clone of %s at %s failed: %v", repoURL, ref, err)
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return fmt.Errorf("git clone %s at %s failed: %w", repoURL, opts.Branch, lastErr)
}

// Checkout switches the work tree at path to ref, trying a local branch, a
// remote branch and a tag in that order.
func Checkout(path, ref string) error {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("error opening repository %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	candidates := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewRemoteReferenceName("origin", ref),
		plumbing.NewTagReferenceName(ref),
	}
	for _, name := range candidates {
		r, err := repo.Reference(name, true)
		if err != nil {
			continue
		}
		hash := r.Hash()
		if name.IsTag() {
			if tag, err := repo.TagObject(hash); err == nil {
				hash = tag.Target
			}
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
			return fmt.Errorf("error checking out %s: %w", ref, err)
		}
		log.Info().Str("op", "gitclone/clone").Msgf("checked out %s (%s) in %s", ref, hash.String()[:7], path)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRefNotFound, ref)
}

// Head returns the commit hash checked out at path.
func Head(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}
