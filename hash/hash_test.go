package hash

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirectoryIsReserved(t *testing.T) {
	if !IsDirectory(Directory) {
		t.Fatal("Directory sentinel does not report as a directory hash")
	}
}

func TestMurmurHasherDistinctContent(t *testing.T) {
	dir := t.TempDir()

	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(pathA, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pathB, []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	infoA, err := os.Lstat(pathA)
	if err != nil {
		t.Fatal(err)
	}
	infoB, err := os.Lstat(pathB)
	if err != nil {
		t.Fatal(err)
	}

	var hasher MurmurHasher
	hashA, ok := hasher.Hash(pathA, infoA)
	if !ok {
		t.Fatal("expected hash success for existing file")
	}
	hashB, ok := hasher.Hash(pathB, infoB)
	if !ok {
		t.Fatal("expected hash success for existing file")
	}

	if Equal(hashA, hashB) {
		t.Fatal("distinct content produced equal hashes")
	}

	// Re-hashing identical content must be stable.
	hashAAgain, ok := hasher.Hash(pathA, infoA)
	if !ok || !Equal(hashA, hashAAgain) {
		t.Fatal("re-hashing identical content did not produce an equal hash")
	}
}

func TestMurmurHasherMissingFile(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope.txt")

	var hasher MurmurHasher
	fakeInfo := fakeFileInfo{name: "nope.txt", dir: false}
	if _, ok := hasher.Hash(missing, fakeInfo); ok {
		t.Fatal("expected hash failure for a nonexistent file")
	}
}

func TestMurmurHasherDirectory(t *testing.T) {
	dir := t.TempDir()
	info, err := os.Lstat(dir)
	if err != nil {
		t.Fatal(err)
	}

	var hasher MurmurHasher
	h, ok := hasher.Hash(dir, info)
	if !ok {
		t.Fatal("expected hash success for a directory")
	}
	if !IsDirectory(h) {
		t.Fatal("expected directory hash to be the Directory sentinel")
	}
}

func TestCounterHasherAlwaysChanges(t *testing.T) {
	hasher := NewCounterHasher()
	info := fakeFileInfo{name: "f", dir: false}

	first, ok := hasher.Hash("irrelevant", info)
	if !ok {
		t.Fatal("counter hasher must never fail")
	}
	second, _ := hasher.Hash("irrelevant", info)
	if Equal(first, second) {
		t.Fatal("counter hasher produced the same hash twice")
	}
}

func TestHashStringNeverPanics(t *testing.T) {
	for _, h := range []Hash{"", Directory, Hash("abc")} {
		_ = h.String()
	}
}

// fakeFileInfo is a minimal os.FileInfo for exercising hashers without
// needing a real filesystem entry.
type fakeFileInfo struct {
	name string
	dir  bool
}

func (f fakeFileInfo) Name() string      { return f.name }
func (f fakeFileInfo) Size() int64       { return 0 }
func (f fakeFileInfo) Mode() os.FileMode { return 0 }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool       { return f.dir }
func (f fakeFileInfo) Sys() interface{}  { return nil }
