package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/renderlite/renderlite/pkg/errdefs"
	"github.com/renderlite/renderlite/pkg/secrets"
)

type cloneOptions struct {
	RepoURL  string
	Branch   string
	Token    string // plaintext source-control token, may be empty
	Dir      string
	Timeout  time.Duration
	MaxBytes int64
}

type cloneResult struct {
	CommitSHA string
}

// cloneRepo performs a shallow single-branch checkout and reports the HEAD
// commit. The token, when present, is injected as basic auth into the URL
// handed to git; the rewritten URL never appears in logs or errors.
func cloneRepo(ctx context.Context, opts cloneOptions) (*cloneResult, error) {
	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cloneURL := opts.RepoURL
	if opts.Token != "" {
		u, err := authURL(opts.RepoURL, opts.Token)
		if err != nil {
			return nil, err
		}
		cloneURL = u
	}

	cmd := exec.CommandContext(cctx, "git", "clone",
		"--depth", "1", "--single-branch", "--branch", opts.Branch,
		cloneURL, opts.Dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, errdefs.Timeout(fmt.Sprintf("git clone timed out after %s", opts.Timeout), nil)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("git clone failed: %s", scrub(string(out), opts.Token))
	}

	size, err := dirSize(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to measure repository size: %w", err)
	}
	if opts.MaxBytes > 0 && size > opts.MaxBytes {
		return nil, errdefs.Validation("repository is %d MiB, the limit is %d MiB",
			size/(1<<20), opts.MaxBytes/(1<<20))
	}

	sha, err := headCommit(ctx, opts.Dir)
	if err != nil {
		return nil, err
	}
	return &cloneResult{CommitSHA: sha}, nil
}

// authURL injects the token as HTTP basic auth credentials.
func authURL(repoURL, token string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", errdefs.Validation("repository URL is not parseable")
	}
	u.User = url.User(token)
	return u.String(), nil
}

// scrub masks the token anywhere in process output, so git's habit of
// echoing the remote URL in error messages cannot leak credentials.
func scrub(s, token string) string {
	s = strings.TrimSpace(s)
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, secrets.MaskedValue)
}

func headCommit(ctx context.Context, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD commit: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// dirSize sums file sizes under root, work tree and .git alike.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// shortCommit is the 7-character form used in image tags.
func shortCommit(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
