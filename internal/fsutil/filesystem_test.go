package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_CreateReadRemove(t *testing.T) {
	fsys := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	name := filepath.Join(dir, "out.txt")
	w, err := fsys.Create(name)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := io.WriteString(w, "payload"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := fsys.ReadFile(name)
	if err != nil || string(data) != "payload" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}

	if err := RemoveIfExists(fsys, name); err != nil {
		t.Fatalf("RemoveIfExists on existing file: %v", err)
	}
	if fsys.Exists(name) {
		t.Error("file should be gone")
	}
	if err := RemoveIfExists(fsys, name); err != nil {
		t.Errorf("RemoveIfExists on missing file should be nil, got %v", err)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}
}

func TestMemoryFileSystem_CreateVisibleBeforeClose(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/out/created.txt")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, _ = w.Write([]byte("a,b\n"))

	data, _ := mfs.ReadFile("/out/created.txt")
	if string(data) != "a,b\n" {
		t.Errorf("expected written bytes before Close, got %q", data)
	}
	_ = w.Close()

	if got := mfs.Files("/out"); len(got) != 1 || got[0] != "/out/created.txt" {
		t.Errorf("Files(/out) = %v", got)
	}
}

func TestMemoryFileSystem_MkdirAll(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/runs/exp/arguments0", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, dir := range []string{"/runs", "/runs/exp", "/runs/exp/arguments0"} {
		if !mfs.Exists(dir) {
			t.Errorf("expected %s to exist", dir)
		}
	}
}

func TestRemoveIfExists_Memory(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("c1.slack.out", []byte("x"), 0o644)

	if err := RemoveIfExists(mfs, "c1.slack.out"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mfs.Exists("c1.slack.out") {
		t.Error("byproduct should have been removed")
	}
	if err := RemoveIfExists(mfs, "c1.slack.out"); err != nil {
		t.Errorf("missing file should be tolerated, got %v", err)
	}
}

func TestRemoveIfExists_PropagatesOtherErrors(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.RemoveErr = syscall.EACCES
	_ = mfs.WriteFile("vpr_stdout.log", []byte("x"), os.FileMode(0o644))

	err := RemoveIfExists(mfs, "vpr_stdout.log")
	if err == nil {
		t.Fatal("expected permission error to propagate")
	}
	if errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error should not be not-exist: %v", err)
	}
	if !errors.Is(err, syscall.EACCES) {
		t.Errorf("expected EACCES, got %v", err)
	}
}
