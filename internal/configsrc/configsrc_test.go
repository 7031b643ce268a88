package configsrc

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"megaphone/internal/collection"
	"megaphone/pkg/logx"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile %s: %v", name, err)
	}
	return path
}

func TestLoadTextFormat(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "urls.txt", `
# fleet endpoints
json://hooks.example.com/a

ops,urgent=json://hooks.example.com/b
dev = form://hooks.example.com/c
tgram://123456:SECRET/1001
`)
	lines, err := Load(path, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []collection.Line{
		{URL: "json://hooks.example.com/a"},
		{URL: "json://hooks.example.com/b", Tags: []string{"ops", "urgent"}},
		{URL: "form://hooks.example.com/c", Tags: []string{"dev"}},
		{URL: "tgram://123456:SECRET/1001"},
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %+v\nwant    %+v", lines, want)
	}
}

func TestTextURLWithEqualsInQuery(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "urls.txt",
		"json://hooks.example.com/a?format=markdown\n")
	lines, err := Load(path, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(lines) != 1 || lines[0].URL != "json://hooks.example.com/a?format=markdown" {
		t.Fatalf("lines = %+v", lines)
	}
	if lines[0].Tags != nil {
		t.Fatalf("query '=' mistaken for a tag prefix: %+v", lines[0])
	}
}

func TestLoadYAMLFormat(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "conf.yaml", `
urls:
  - json://hooks.example.com/a
  - url: tgram://123456:SECRET/1001
    tags: ops, urgent
  - url: form://hooks.example.com/c
    tags:
      - dev
      - staging
  - url: "   "
`)
	lines, err := Load(path, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []collection.Line{
		{URL: "json://hooks.example.com/a"},
		{URL: "tgram://123456:SECRET/1001", Tags: []string{"ops", "urgent"}},
		{URL: "form://hooks.example.com/c", Tags: []string{"dev", "staging"}},
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %+v\nwant    %+v", lines, want)
	}
}

func TestIncludeDepth(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "leaf.yaml", "urls:\n  - json://leaf.example.com\n")
	writeFile(t, dir, "mid.yaml", "urls:\n  - json://mid.example.com\ninclude:\n  - leaf.yaml\n")
	root := writeFile(t, dir, "root.yaml", "urls:\n  - json://root.example.com\ninclude:\n  - mid.yaml\n")

	tests := []struct {
		name  string
		depth int
		want  int
	}{
		{"no includes", 0, 1},
		{"one level", 1, 2},
		{"two levels", 2, 3},
		{"beyond the chain", 10, 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lines, err := Load(root, tt.depth)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(lines) != tt.want {
				t.Fatalf("len(lines) = %d, want %d: %+v", len(lines), tt.want, lines)
			}
		})
	}
}

func TestIncludeCycleBreaks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "urls:\n  - json://a.example.com\ninclude:\n  - b.yaml\n")
	b := writeFile(t, dir, "b.yaml", "urls:\n  - json://b.example.com\ninclude:\n  - a.yaml\n")

	lines, err := Load(b, 50)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("cycle not broken, lines = %+v", lines)
	}
}

func TestIncludeRelativeToIncludingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeFile(t, sub, "extra.yaml", "urls:\n  - json://extra.example.com\n")
	root := writeFile(t, dir, "root.yaml", "urls:\n  - json://root.example.com\ninclude:\n  - sub/extra.yaml\n")

	lines, err := Load(root, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(lines) != 2 || lines[1].URL != "json://extra.example.com" {
		t.Fatalf("lines = %+v", lines)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), 1); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestWatchSeesRewrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "urls.txt", "json://hooks.example.com/a\n")

	changed := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func() { changed <- struct{}{} }, logx.Nop())
	}()

	// Give the watcher a moment to arm before rewriting.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "urls.txt", "json://hooks.example.com/b\n")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("rewrite never reported")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "urls.txt", "json://hooks.example.com/a\n")

	changed := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Watch(ctx, path, func() { changed <- struct{}{} }, logx.Nop()) }()

	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "other.txt", "noise\n")

	select {
	case <-changed:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(time.Second):
	}
}

func TestLoadBadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "bad.yaml", "urls: [unclosed\n")
	if _, err := Load(path, 1); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}
