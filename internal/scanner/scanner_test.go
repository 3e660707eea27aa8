package scanner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestWalkFindsRegularFiles(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "a.txt"), "a")
	mustWriteFile(t, filepath.Join(dir, "sub", "b.txt"), "bb")

	out := make(chan Entry, 10)
	if err := Walk(context.Background(), []string{dir}, nil, out); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var found []string
	for e := range out {
		found = append(found, e.Path)
	}
	if len(found) != 2 {
		t.Fatalf("found %d files, want 2: %v", len(found), found)
	}
}

func TestWalkSkipsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	mustWriteFile(t, target, "real")

	link := filepath.Join(dir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	out := make(chan Entry, 10)
	if err := Walk(context.Background(), []string{dir}, nil, out); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var found []string
	for e := range out {
		found = append(found, e.Path)
	}
	if len(found) != 1 || found[0] != target {
		t.Errorf("found = %v, want only %v", found, target)
	}
}

func TestWalkExcludeFunc(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "keep.txt"), "k")
	mustWriteFile(t, filepath.Join(dir, "skip.tmp"), "s")

	out := make(chan Entry, 10)
	exclude := func(path string) bool {
		return filepath.Ext(path) == ".tmp"
	}
	if err := Walk(context.Background(), []string{dir}, exclude, out); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var found []string
	for e := range out {
		found = append(found, filepath.Base(e.Path))
	}
	if len(found) != 1 || found[0] != "keep.txt" {
		t.Errorf("found = %v, want [keep.txt]", found)
	}
}

func TestWalkRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 50; i++ {
		mustWriteFile(t, filepath.Join(dir, string(rune('a'+i%26))+".txt"), "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan Entry, 100)
	err := Walk(ctx, []string{dir}, nil, out)
	if err == nil {
		t.Error("Walk with a cancelled context should return an error")
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}
