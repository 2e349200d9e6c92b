package treewalk

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestWalkVisitsAllEntries(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "sub"))
	mustWriteFile(t, filepath.Join(root, "a.txt"), "a")
	mustWriteFile(t, filepath.Join(root, "sub", "b.txt"), "b")

	var dirs, files []string
	v := Visitor{}
	if err := v.Walk(root,
		func(path string, info os.FileInfo) { dirs = append(dirs, path) },
		func(path string, info os.FileInfo) { files = append(files, path) },
	); err != nil {
		t.Fatal(err)
	}

	sort.Strings(dirs)
	sort.Strings(files)

	wantDirs := []string{root, filepath.Join(root, "sub")}
	wantFiles := []string{filepath.Join(root, "a.txt"), filepath.Join(root, "sub", "b.txt")}

	if len(dirs) != len(wantDirs) || dirs[0] != wantDirs[0] || dirs[1] != wantDirs[1] {
		t.Fatalf("unexpected directories: %v", dirs)
	}
	if len(files) != len(wantFiles) || files[0] != wantFiles[0] || files[1] != wantFiles[1] {
		t.Fatalf("unexpected files: %v", files)
	}
}

func TestWalkToleratesPerEntryFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits do not restrict access when running as root")
	}

	root := t.TempDir()
	unreadableDir := filepath.Join(root, "locked")
	mustMkdir(t, unreadableDir)
	mustWriteFile(t, filepath.Join(unreadableDir, "secret.txt"), "s")
	mustWriteFile(t, filepath.Join(root, "visible.txt"), "v")

	if err := os.Chmod(unreadableDir, 0o000); err != nil {
		t.Skip("cannot remove directory read permission in this environment")
	}
	defer os.Chmod(unreadableDir, 0o755)

	var failed []string
	var files []string
	v := Visitor{OnError: func(path string, err error) { failed = append(failed, path) }}
	if err := v.Walk(root,
		func(path string, info os.FileInfo) {},
		func(path string, info os.FileInfo) { files = append(files, path) },
	); err != nil {
		t.Fatal("walk should not abort for a per-entry failure:", err)
	}

	if len(failed) == 0 {
		t.Fatal("expected at least one reported failure for the unreadable directory")
	}

	foundVisible := false
	for _, f := range files {
		if f == filepath.Join(root, "visible.txt") {
			foundVisible = true
		}
	}
	if !foundVisible {
		t.Fatal("walk did not continue past the unreadable directory")
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
