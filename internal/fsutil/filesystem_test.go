package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOSFileSystem_WriteAtomicAndRead(t *testing.T) {
	dir := t.TempDir()
	osfs := OSFileSystem{}
	path := filepath.Join(dir, "000001.fvol")

	if err := osfs.WriteFileAtomic(path, []byte("first"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if err := osfs.WriteFileAtomic(path, []byte("second"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic overwrite failed: %v", err)
	}

	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("ReadFile = %q, want %q", data, "second")
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry in dir, got %d", len(entries))
	}
}

func TestOSFileSystem_ListFiles(t *testing.T) {
	dir := t.TempDir()
	osfs := OSFileSystem{}
	for _, name := range []string{"b.fvol", "a.fvol", "c.txt", ".hidden.fvol"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.fvol"), 0755); err != nil {
		t.Fatal(err)
	}

	got, err := osfs.ListFiles(dir, ".fvol")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a.fvol", "b.fvol"}, got); diff != "" {
		t.Errorf("ListFiles mismatch (-want +got):\n%s", diff)
	}
}

func TestOSFileSystem_ExistsAndRemove(t *testing.T) {
	dir := t.TempDir()
	osfs := OSFileSystem{}
	path := filepath.Join(dir, "x")

	if osfs.Exists(path) {
		t.Error("expected file to not exist yet")
	}
	if err := osfs.WriteFileAtomic(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !osfs.Exists(path) {
		t.Error("expected file to exist")
	}
	if err := osfs.Remove(path); err != nil {
		t.Fatal(err)
	}
	if osfs.Exists(path) {
		t.Error("expected file to be removed")
	}
}

func TestMemoryFileSystem_WriteRequiresDir(t *testing.T) {
	m := NewMemoryFileSystem()
	err := m.WriteFileAtomic("/data/map/a.fvol", []byte("x"), 0644)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected ErrNotExist without parent dir, got %v", err)
	}

	if err := m.MkdirAll("/data/map", 0755); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteFileAtomic("/data/map/a.fvol", []byte("x"), 0644); err != nil {
		t.Fatalf("write after MkdirAll failed: %v", err)
	}
	if !m.Exists("/data") {
		t.Error("parent directories should be created by MkdirAll")
	}
	if m.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", m.Writes())
	}
}

func TestMemoryFileSystem_DataIsolation(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("/d", 0755); err != nil {
		t.Fatal(err)
	}
	data := []byte("original")
	if err := m.WriteFileAtomic("/d/f", data, 0644); err != nil {
		t.Fatal(err)
	}
	data[0] = 'X'

	got, err := m.ReadFile("/d/f")
	if err != nil {
		t.Fatal(err)
	}
	got[1] = 'Y'

	again, _ := m.ReadFile("/d/f")
	if string(again) != "original" {
		t.Errorf("stored data was mutated: %q", again)
	}
}

func TestMemoryFileSystem_ListFiles(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("/d/nested", 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"/d/2.fvol", "/d/1.fvol", "/d/x.json", "/d/nested/3.fvol"} {
		if err := m.WriteFileAtomic(name, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.ListFiles("/d", ".fvol")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"1.fvol", "2.fvol"}, got); diff != "" {
		t.Errorf("ListFiles mismatch (-want +got):\n%s", diff)
	}

	if _, err := m.ListFiles("/missing", ".fvol"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist for missing dir, got %v", err)
	}
}

func TestMemoryFileSystem_FailWrites(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("/d", 0755); err != nil {
		t.Fatal(err)
	}
	m.FailWrites = errors.New("disk full")
	if err := m.WriteFileAtomic("/d/f", []byte("x"), 0644); err == nil {
		t.Fatal("expected write failure")
	}
	if m.Exists("/d/f") {
		t.Error("failed write must not create the file")
	}
}

func TestMemoryFileSystem_RemoveNonExistent(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.Remove("/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_PathCleaning(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("/a/b", 0755); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteFileAtomic("/a/b/../b/./f", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !m.Exists("/a/b/f") {
		t.Error("expected cleaned path to exist")
	}
}
