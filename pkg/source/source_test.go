package source

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() Option { return WithLogger(log.New(io.Discard, "", 0)) }

func TestIsRemote(t *testing.T) {
	cases := map[string]bool{
		"https://github.com/Yeok-c/Stewart_Py": true,
		"git@github.com:owner/repo.git":        true,
		"ssh://git@example.com/repo.git":       true,
		"github.com/owner/repo":                true,
		"https://gitlab.com/group/project":     true,
		"./local/checkout":                     false,
		"/srv/code":                            false,
		"":                                     false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsRemote(in), in)
	}
}

func TestAcquireLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("x = 1\n"), 0o644))

	got, err := New(Options{}, quiet()).Acquire(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestAcquireLocalCheckoutUnderHostPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "go", "src", "github.com", "owner", "repo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("x = 1\n"), 0o644))
	work := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(work, 0o755))
	keep := filepath.Join(work, "keep.txt")
	require.NoError(t, os.WriteFile(keep, nil, 0o644))

	assert.False(t, IsRemote(dir))
	f := &fakeFetcher{}
	got, err := New(Options{WorkDir: work, Method: MethodArchive}, WithFetcher(MethodArchive, f), quiet()).
		Acquire(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.Empty(t, f.seen)
	assert.FileExists(t, keep, "the work dir is only wiped for remote clones")
}

func TestAcquireLocalFailures(t *testing.T) {
	a := New(Options{}, quiet())

	_, err := a.Acquire(context.Background(), filepath.Join(t.TempDir(), "missing"))
	var ae *AcquisitionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "stat", ae.Op)

	file := filepath.Join(t.TempDir(), "file.py")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = a.Acquire(context.Background(), file)
	require.ErrorAs(t, err, &ae)

	_, err = a.Acquire(context.Background(), "  ")
	require.ErrorAs(t, err, &ae)
}

type fakeFetcher struct {
	err  error
	seen []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url, ref, dir string) error {
	f.seen = append(f.seen, url, ref, dir)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(filepath.Join(dir, "main.py"), []byte("print(1)\n"), 0o644)
}

func TestAcquireRemoteResetsWorkDir(t *testing.T) {
	work := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(work, 0o755))
	stale := filepath.Join(work, "stale.py")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	f := &fakeFetcher{}
	a := New(Options{WorkDir: work, Ref: "dev"}, quiet(), WithFetcher(MethodGit, f))
	dir, err := a.Acquire(context.Background(), "https://github.com/o/r")
	require.NoError(t, err)
	assert.Equal(t, work, dir)
	assert.Equal(t, []string{"https://github.com/o/r", "dev", work}, f.seen)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(work, "main.py"))
}

func TestAcquireRemoteFailureIsAcquisitionError(t *testing.T) {
	boom := errors.New("auth required")
	a := New(Options{WorkDir: filepath.Join(t.TempDir(), "repo")}, quiet(), WithFetcher(MethodGit, &fakeFetcher{err: boom}))
	_, err := a.Acquire(context.Background(), "https://github.com/o/private")

	var ae *AcquisitionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "clone", ae.Op)
	assert.ErrorIs(t, err, boom)
}

func TestAcquireUnknownMethod(t *testing.T) {
	a := New(Options{WorkDir: filepath.Join(t.TempDir(), "repo"), Method: "svn"}, quiet())
	_, err := a.Acquire(context.Background(), "https://github.com/o/r")
	require.Error(t, err)
}

func TestResetDirRefusesCurrentDirectory(t *testing.T) {
	require.Error(t, resetDir("."))
}

func TestParseGitHub(t *testing.T) {
	cases := []struct {
		in, owner, repo string
	}{
		{"https://github.com/Yeok-c/Stewart_Py", "Yeok-c", "Stewart_Py"},
		{"https://github.com/o/r.git", "o", "r"},
		{"git@github.com:o/r.git", "o", "r"},
		{"github.com/o/r/tree/main", "o", "r"},
	}
	for _, c := range cases {
		owner, repo, err := ParseGitHub(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.owner, owner)
		assert.Equal(t, c.repo, repo)
	}
	_, _, err := ParseGitHub("https://gitlab.com/o/r")
	require.Error(t, err)
	_, _, err = ParseGitHub("https://github.com/only")
	require.Error(t, err)
}

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "o-r-abc123/", Typeflag: tar.TypeDir, Mode: 0o755}))
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractTarballStripsTopDirectory(t *testing.T) {
	dir := t.TempDir()
	data := tarball(t, map[string]string{
		"o-r-abc123/main.py":     "print(1)\n",
		"o-r-abc123/pkg/util.py": "x = 2\n",
	})
	require.NoError(t, ExtractTarball(bytes.NewReader(data), dir))

	got, err := os.ReadFile(filepath.Join(dir, "pkg", "util.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 2\n", string(got))
	assert.FileExists(t, filepath.Join(dir, "main.py"))
}

func TestExtractTarballRejectsTraversal(t *testing.T) {
	data := tarball(t, map[string]string{"o-r-abc/../../evil.py": "x"})
	// path.Clean folds the traversal into the root, so the entry is dropped
	// or lands inside dir; it must never escape.
	dir := t.TempDir()
	_ = ExtractTarball(bytes.NewReader(data), dir)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "evil.py"))
}

func TestArchiveFetcherDownloadsTarball(t *testing.T) {
	data := tarball(t, map[string]string{"o-r-abc123/app.py": "print('hi')\n"})
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/repos/o/r/tarball/main", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/codeload/o/r/main.tar.gz", http.StatusFound)
	})
	mux.HandleFunc("/codeload/o/r/main.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	})

	f, err := NewArchiveFetcher("").WithBaseURL(srv.URL)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, f.Fetch(context.Background(), "https://github.com/o/r", "main", dir))
	assert.FileExists(t, filepath.Join(dir, "app.py"))
}
