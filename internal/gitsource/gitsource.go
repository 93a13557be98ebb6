// Package gitsource keeps local clones of git-hosted decks.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// IsRemote reports whether source looks like a git URL rather than a local path.
func IsRemote(source string) bool {
	if strings.HasPrefix(source, "git@") {
		return true
	}
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git":
		return u.Host != ""
	}
	return false
}

// LocalPath maps a repository URL to a directory under baseDir,
// e.g. https://github.com/a/decks.git -> baseDir/github.com/a/decks.
func LocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || parsedURL.Host == "" {
		// scp-like syntax: git@host:owner/repo.git
		if at := strings.Index(repoURL, "@"); at >= 0 {
			hostAndPath := repoURL[at+1:]
			if host, repoPath, ok := strings.Cut(hostAndPath, ":"); ok && host != "" && repoPath != "" {
				return filepath.Join(baseDir, host, strings.TrimSuffix(repoPath, ".git")), nil
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(strings.Trim(parsedURL.Path, "/"), ".git")
	if sanitizedPath == "" || strings.Contains(sanitizedPath, "..") {
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}

// Syncer clones or pulls repositories.
type Syncer struct {
	log      *zap.Logger
	progress io.Writer
}

// NewSyncer returns a syncer. progress may be nil to silence git output.
func NewSyncer(log *zap.Logger, progress io.Writer) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{log: log, progress: progress}
}

// Sync clones a git repository if it doesn't exist at the given path,
// or pulls the latest changes if it does.
func (s *Syncer) Sync(ctx context.Context, repoURL, localPath string) error {
	_, err := os.Stat(localPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.log.Info("cloning repository", zap.String("url", repoURL), zap.String("path", localPath))
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", localPath, err)
		}
		_, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
			URL:      repoURL,
			Progress: s.progress,
		})
		if err != nil {
			return fmt.Errorf("failed to clone repo %s: %w", repoURL, err)
		}
		s.log.Info("clone successful", zap.String("path", localPath))
	case err == nil:
		s.log.Info("pulling latest changes", zap.String("path", localPath))
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}

		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}

		err = worktree.PullContext(ctx, &git.PullOptions{
			RemoteName: "origin",
			Progress:   s.progress,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
		s.log.Info("pull successful (or already up-to-date)", zap.String("path", localPath))
	default:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	return nil
}
