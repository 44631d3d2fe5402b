// Package git commits bumped manifests to the tap repository that holds
// them and pushes them, using go-git so no git binary is required.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// DefaultRemote is the remote Push publishes to.
const DefaultRemote = "origin"

// Common Git errors
var (
	ErrNotAGitRepo  = errors.New("not a git repository")
	ErrEmptyMessage = errors.New("commit message cannot be empty")
	ErrNoFiles      = errors.New("no files specified to stage")
	ErrOutsideRepo  = errors.New("path is outside the repository")
	ErrNoRemote     = errors.New("remote not configured")
)

// Git is the interface for Git operations.
type Git interface {
	IsGitRepo(ctx context.Context) (bool, error)
	Stage(ctx context.Context, files ...string) error
	HasStagedChanges(ctx context.Context) (bool, error)
	Commit(ctx context.Context, msg, body string) (string, error)
	Push(ctx context.Context) error
}

// Client implements the Git interface for the repository containing
// repoPath (parent directories are searched for .git).
type Client struct {
	repoPath string
	user     func() UserInfo
	token    func() string
	now      func() time.Time
}

// NewClient creates a new Git client for the given repository path.
func NewClient(repoPath string) *Client {
	return &Client{
		repoPath: repoPath,
		user:     DetectGitUser,
		token:    func() string { return os.Getenv("GITHUB_TOKEN") },
		now:      time.Now,
	}
}

func (c *Client) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(c.repoPath, &gogit.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotAGitRepo, c.repoPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// Stage adds files to the staging area. Files may be absolute or relative
// to the repository root.
func (c *Client) Stage(ctx context.Context, files ...string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	if len(files) == 0 {
		return ErrNoFiles
	}

	repo, err := c.open()
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	for _, file := range files {
		rel, err := relativeTo(root, file)
		if err != nil {
			return err
		}
		if _, err := worktree.Add(rel); err != nil {
			return fmt.Errorf("stage file %s: %w", rel, err)
		}
	}

	return nil
}

// Commit records the staged changes and returns the new commit hash. The
// body is optional and separated from the subject by a blank line.
func (c *Client) Commit(ctx context.Context, msg, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	if msg == "" {
		return "", ErrEmptyMessage
	}

	repo, err := c.open()
	if err != nil {
		return "", err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("get worktree: %w", err)
	}

	author, err := c.author(repo)
	if err != nil {
		return "", err
	}

	commitMsg := msg
	if body != "" {
		commitMsg = msg + "\n\n" + body
	}

	hash, err := worktree.Commit(commitMsg, &gogit.CommitOptions{Author: author})
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	return hash.String(), nil
}

// author prefers the repository's user config and falls back to the
// environment.
func (c *Client) author(repo *gogit.Repository) (*object.Signature, error) {
	cfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("read repo config: %w", err)
	}

	name, email := cfg.User.Name, cfg.User.Email
	if name == "" || email == "" {
		user := c.user()
		if name == "" {
			name = user.Name
		}
		if email == "" {
			email = user.Email
		}
	}

	return &object.Signature{Name: name, Email: email, When: c.now()}, nil
}

// HasStagedChanges reports whether the index differs from HEAD.
func (c *Client) HasStagedChanges(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}

	repo, err := c.open()
	if err != nil {
		return false, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("get worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("get status: %w", err)
	}

	for _, st := range status {
		if st.Staging != gogit.Unmodified && st.Staging != gogit.Untracked {
			return true, nil
		}
	}
	return false, nil
}

// Push publishes local branches to DefaultRemote. HTTPS remotes
// authenticate with GITHUB_TOKEN when it is set. A remote that is already
// up to date is not an error.
func (c *Client) Push(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	repo, err := c.open()
	if err != nil {
		return err
	}

	remote, err := repo.Remote(DefaultRemote)
	if errors.Is(err, gogit.ErrRemoteNotFound) {
		return fmt.Errorf("%w: %s", ErrNoRemote, DefaultRemote)
	}
	if err != nil {
		return fmt.Errorf("get remote %s: %w", DefaultRemote, err)
	}

	opts := &gogit.PushOptions{RemoteName: DefaultRemote}
	if urls := remote.Config().URLs; len(urls) > 0 && strings.HasPrefix(urls[0], "https://") {
		if token := c.token(); token != "" {
			opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: token}
		}
	}

	err = repo.PushContext(ctx, opts)
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("push to %s: %w", DefaultRemote, err)
	}
	return nil
}

// IsGitRepo reports whether repoPath is inside a git repository.
func (c *Client) IsGitRepo(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}

	_, err := c.open()
	if errors.Is(err, ErrNotAGitRepo) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func relativeTo(root, file string) (string, error) {
	if !filepath.IsAbs(file) {
		return filepath.ToSlash(file), nil
	}

	// Resolve symlinks on both sides (e.g. /var vs /private/var on macOS).
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	if resolved, err := filepath.EvalSymlinks(file); err == nil {
		file = resolved
	}

	rel, err := filepath.Rel(root, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRepo, file)
	}
	return filepath.ToSlash(rel), nil
}
