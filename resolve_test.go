package httpd

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, data []byte, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		t.Fatal(err)
	}
	// umask must not decide the outcome
	if err := os.Chmod(path, perm); err != nil {
		t.Fatal(err)
	}
}

func TestDoRequest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), []byte("<h1>hi</h1>"), 0644)
	writeFile(t, filepath.Join(root, "secret.txt"), []byte("no"), 0600)
	writeFile(t, filepath.Join(root, "empty.txt"), nil, 0644)
	writeFile(t, filepath.Join(root, "sub", "a.txt"), []byte("a"), 0644)

	cases := []struct {
		url  string
		want httpCode
	}{
		{"/index.html", fileRequest},
		{"/sub/a.txt", fileRequest},
		{"/empty.txt", fileRequest},
		{"/missing.html", noResource},
		{"/secret.txt", forbiddenRequest},
		{"/sub", badRequest},
		{"/../etc/passwd", badRequest},
		{"/sub/../index.html", badRequest},
		{"/a..b", noResource},
	}
	m, _ := newTestManager(t, root)
	for _, tc := range cases {
		c := newTestConn(t, m, &memSocket{})
		c.url = tc.url
		if got := c.doRequest(); got != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.url, got, tc.want)
		}
		if tc.want == fileRequest && c.file == nil {
			t.Fatalf("%s: no file attached", tc.url)
		}
		c.Close()
	}
}

func TestDoRequestMapsContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), []byte("<h1>hi</h1>"), 0644)
	writeFile(t, filepath.Join(root, "empty.txt"), nil, 0644)
	m, _ := newTestManager(t, root)

	c := newTestConn(t, m, &memSocket{})
	c.url = "/index.html"
	if c.doRequest() != fileRequest {
		t.Fatal("expected file")
	}
	if string(c.file.data) != "<h1>hi</h1>" || c.file.size != 11 {
		t.Fatalf("mapped %q size %d", c.file.data, c.file.size)
	}
	if c.realFile != filepath.Join(root, "index.html") {
		t.Fatalf("realFile = %q", c.realFile)
	}
	f := c.file
	c.unmap()
	if c.file != nil || f.data != nil {
		t.Fatal("unmap left the mapping behind")
	}
	// a second release is a no-op
	f.release()

	c.init()
	c.url = "/empty.txt"
	if c.doRequest() != fileRequest {
		t.Fatal("expected file")
	}
	if c.file.size != 0 || c.file.data != nil {
		t.Fatalf("empty file mapped: %+v", c.file)
	}
	c.Close()
}

func TestDoRequestPathMax(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ab"), []byte("x"), 0644)
	m, _ := newTestManager(t, root)
	// the resolved path is cut to pathMax-1 bytes
	m.pathMax = len(root) + len("/ab") + 1

	c := newTestConn(t, m, &memSocket{})
	c.url = "/abcdef"
	if got := c.doRequest(); got != fileRequest {
		t.Fatalf("got %d", got)
	}
	if c.realFile != root+"/ab" {
		t.Fatalf("realFile = %q", c.realFile)
	}
	c.Close()
}

func TestHasDotDot(t *testing.T) {
	cases := map[string]bool{
		"/a/b":       false,
		"/..":        true,
		"/a/../b":    true,
		"/a..":       false,
		"/..a/b":     false,
		"/a/b/../..": true,
	}
	for url, want := range cases {
		if got := hasDotDot(url); got != want {
			t.Fatalf("hasDotDot(%q) = %v", url, got)
		}
	}
}
