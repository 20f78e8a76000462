// Package git versions a pocket directory by committing it after each store.
// It shells out to the git binary; the directory is guarded by a lock file so
// several processes sharing it do not interleave commits.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// LockFile is created in the working directory while a snapshot runs.
	LockFile = ".pocket.lock"

	// DefaultLockTimeout bounds how long Lock waits for another holder.
	DefaultLockTimeout = 30 * time.Second
)

// ErrLockTimeout is returned when the lock file stays held for too long.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// ignored lists the entries that never belong in a snapshot.
var ignored = []string{LockFile, "_backups/", ".tmp/"}

// Client runs git commands in a pocket directory.
type Client struct {
	WorkDir     string
	Logger      *slog.Logger
	LockTimeout time.Duration

	// AuthorName and AuthorEmail, when set, override the git identity of commits.
	AuthorName  string
	AuthorEmail string
}

// NewClient creates a client for workDir.
func NewClient(workDir string, logger *slog.Logger) *Client {
	return &Client{
		WorkDir:     workDir,
		Logger:      logger,
		LockTimeout: DefaultLockTimeout,
	}
}

// Lock acquires the lock file, polling until it is free or the timeout ends.
func (c *Client) Lock() (func(), error) {
	path := filepath.Join(c.WorkDir, LockFile)
	deadline := time.Now().Add(c.LockTimeout)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL, 0666)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if c.LockTimeout > 0 && time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Run executes git with args in the working directory. It does not take the lock.
func (c *Client) Run(args ...string) (string, error) {
	if c.Logger != nil {
		c.Logger.Debug("executing git", "args", args, "dir", c.WorkDir)
	}

	cmd := exec.CommandContext(context.Background(), "git", args...)
	cmd.Dir = c.WorkDir

	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\nOutput: %s", args[0], err, output)
	}
	return strings.TrimSpace(output), nil
}

// IsRepo reports whether the working directory is inside a git repository.
func (c *Client) IsRepo() bool {
	out, err := c.Run("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Init creates a repository unless one exists and makes sure the pocket's
// scratch files are ignored.
func (c *Client) Init() error {
	if !c.IsRepo() {
		if _, err := c.Run("init"); err != nil {
			return err
		}
	}
	return c.EnsureIgnored()
}

// EnsureIgnored appends the lock file, backups and scratch directories to
// .gitignore when they are missing.
func (c *Client) EnsureIgnored() error {
	path := filepath.Join(c.WorkDir, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read .gitignore: %w", err)
	}

	present := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		present[strings.TrimSpace(line)] = true
	}
	var missing []string
	for _, entry := range ignored {
		if !present[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var b strings.Builder
	b.Write(data)
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		b.WriteByte('\n')
	}
	for _, entry := range missing {
		b.WriteString(entry)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write .gitignore: %w", err)
	}
	return nil
}

// Status returns the porcelain status of the repository.
func (c *Client) Status() (string, error) {
	return c.Run("status", "--porcelain")
}

// Commit stages everything and records it with msg.
func (c *Client) Commit(msg string) error {
	if _, err := c.Run("add", "-A", "."); err != nil {
		return err
	}
	args := []string{"commit", "-m", msg}
	if c.AuthorName != "" && c.AuthorEmail != "" {
		args = append([]string{"-c", "user.name=" + c.AuthorName, "-c", "user.email=" + c.AuthorEmail}, args...)
	}
	_, err := c.Run(args...)
	return err
}

// Snapshot commits the current state of the directory under the lock,
// with Footer appended to msg.
// It does nothing when the working tree is clean.
func (c *Client) Snapshot(msg string) error {
	unlock, err := c.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	status, err := c.Status()
	if err != nil {
		return err
	}
	if status == "" {
		if c.Logger != nil {
			c.Logger.Debug("nothing to snapshot", "dir", c.WorkDir)
		}
		return nil
	}
	if err := c.Commit(AppendFooter(msg)); err != nil {
		return err
	}
	if c.Logger != nil {
		c.Logger.Info("snapshot committed", "dir", c.WorkDir, "message", msg)
	}
	return nil
}
