// Package source resolves a codebase location to a local directory, cloning
// remote repositories when needed.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Methods for fetching remote repositories.
const (
	MethodGit     = "git"
	MethodArchive = "archive"
)

// AcquisitionError is returned when a location cannot be turned into a local
// directory. It is fatal to setup.
type AcquisitionError struct {
	Location string
	Op       string
	Err      error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %s: %v", e.Location, e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Options configures an Acquirer.
type Options struct {
	// WorkDir receives remote clones. It is wiped before every clone.
	WorkDir string
	// Method is MethodGit (default) or MethodArchive.
	Method string
	// Ref is an optional branch or tag.
	Ref string
	// Depth limits git history; zero clones everything.
	Depth int
}

// Fetcher materialises a remote repository into dir.
type Fetcher interface {
	Fetch(ctx context.Context, url, ref, dir string) error
}

// Acquirer resolves codebase locations.
type Acquirer struct {
	opts     Options
	fetchers map[string]Fetcher
	logger   *log.Logger
}

// Option customises an Acquirer.
type Option func(*Acquirer)

// WithLogger overrides the progress logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Acquirer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithFetcher registers f for method, replacing the default.
func WithFetcher(method string, f Fetcher) Option {
	return func(a *Acquirer) { a.fetchers[method] = f }
}

// New returns an Acquirer with the git and archive fetchers registered.
func New(opts Options, options ...Option) *Acquirer {
	if opts.WorkDir == "" {
		opts.WorkDir = "./repo"
	}
	if opts.Method == "" {
		opts.Method = MethodGit
	}
	a := &Acquirer{
		opts: opts,
		fetchers: map[string]Fetcher{
			MethodGit:     &GitCloner{Depth: opts.Depth},
			MethodArchive: NewArchiveFetcher(os.Getenv("GITHUB_TOKEN")),
		},
		logger: log.New(os.Stderr, "source: ", log.LstdFlags),
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// IsRemote reports whether location names a repository to clone rather than
// a local path. An existing directory is always local, even when its path
// mentions a hosting site (a GOPATH checkout, say).
func IsRemote(location string) bool {
	location = strings.TrimSpace(location)
	l := strings.ToLower(location)
	for _, p := range []string{"http://", "https://", "ssh://", "git://", "git@"} {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	if fi, err := os.Stat(location); err == nil && fi.IsDir() {
		return false
	}
	for _, host := range []string{"github.com", "gitlab.com", "bitbucket.org"} {
		if strings.Contains(l, host) {
			return true
		}
	}
	return false
}

// Acquire returns a readable local directory holding the codebase.
func (a *Acquirer) Acquire(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", &AcquisitionError{Location: location, Op: "resolve", Err: errors.New("empty location")}
	}
	if !IsRemote(location) {
		a.logger.Printf("loading from local repo %s", location)
		if err := checkLocal(location); err != nil {
			return "", err
		}
		return location, nil
	}

	f, ok := a.fetchers[a.opts.Method]
	if !ok {
		return "", &AcquisitionError{Location: location, Op: "clone", Err: fmt.Errorf("unknown method %q", a.opts.Method)}
	}
	dir := a.opts.WorkDir
	if err := resetDir(dir); err != nil {
		return "", &AcquisitionError{Location: location, Op: "prepare", Err: err}
	}
	a.logger.Printf("cloning %s into %s (%s)", location, dir, a.opts.Method)
	if err := f.Fetch(ctx, location, a.opts.Ref, dir); err != nil {
		return "", &AcquisitionError{Location: location, Op: "clone", Err: err}
	}
	return dir, nil
}

func checkLocal(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &AcquisitionError{Location: path, Op: "stat", Err: err}
	}
	if !fi.IsDir() {
		return &AcquisitionError{Location: path, Op: "stat", Err: errors.New("not a directory")}
	}
	f, err := os.Open(path)
	if err != nil {
		return &AcquisitionError{Location: path, Op: "open", Err: err}
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return &AcquisitionError{Location: path, Op: "read", Err: err}
	}
	return nil
}

// resetDir removes dir and recreates it empty. It refuses paths that would
// take the current directory or a filesystem root with them.
func resetDir(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	cwd, _ := os.Getwd()
	if abs == filepath.Dir(abs) || abs == cwd {
		return fmt.Errorf("refusing to clear %s", abs)
	}
	if err := os.RemoveAll(abs); err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o755)
}
