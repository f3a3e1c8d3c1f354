package source

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a whole archive download.
const DefaultTimeout = 5 * time.Minute

// ArchiveFetcher downloads a GitHub tarball instead of cloning. It needs no
// git binary and transfers no history.
type ArchiveFetcher struct {
	gh   *gh.Client
	http *http.Client
}

// NewArchiveFetcher builds a fetcher; an empty token means anonymous access.
func NewArchiveFetcher(token string) *ArchiveFetcher {
	hc := &http.Client{Timeout: DefaultTimeout}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
		hc.Timeout = DefaultTimeout
	}
	return &ArchiveFetcher{gh: gh.NewClient(hc), http: hc}
}

// WithBaseURL points the API client at another endpoint (GitHub Enterprise
// or a test server).
func (a *ArchiveFetcher) WithBaseURL(raw string) (*ArchiveFetcher, error) {
	u, err := url.Parse(strings.TrimSuffix(raw, "/") + "/")
	if err != nil {
		return nil, err
	}
	a.gh.BaseURL = u
	return a, nil
}

func (a *ArchiveFetcher) Fetch(ctx context.Context, repoURL, ref, dir string) error {
	owner, repo, err := ParseGitHub(repoURL)
	if err != nil {
		return err
	}
	link, _, err := a.gh.Repositories.GetArchiveLink(ctx, owner, repo, gh.Tarball, &gh.RepositoryContentGetOptions{Ref: ref}, 3)
	if err != nil {
		return fmt.Errorf("archive link: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.String(), nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download archive: HTTP %d", resp.StatusCode)
	}
	return ExtractTarball(resp.Body, dir)
}

// ParseGitHub extracts owner and repository from an https, ssh or bare
// github.com location.
func ParseGitHub(location string) (owner, repo string, err error) {
	l := strings.TrimSpace(location)
	l = strings.TrimPrefix(l, "git@github.com:")
	if u, perr := url.Parse(l); perr == nil && u.Host != "" {
		if !strings.EqualFold(strings.TrimPrefix(u.Host, "www."), "github.com") {
			return "", "", fmt.Errorf("not a github.com location: %s", location)
		}
		l = u.Path
	} else {
		l = strings.TrimPrefix(l, "github.com/")
	}
	parts := strings.Split(strings.Trim(l, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("cannot parse owner/repo from %s", location)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// ExtractTarball unpacks a gzipped tarball into dir, dropping the top-level
// "<owner>-<repo>-<sha>/" directory GitHub wraps archives in.
func ExtractTarball(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gunzip: %w", err)
	}
	defer gz.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("untar: %w", err)
		}
		name := stripFirst(hdr.Name)
		if name == "" {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("untar: entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		}
	}
}

func stripFirst(name string) string {
	name = path.Clean("/" + name)[1:]
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
