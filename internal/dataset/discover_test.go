package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverInputs(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "train_images.pk"))
	mustWrite(t, filepath.Join(dir, "nested", "train_label.npy"))
	mustWrite(t, filepath.Join(dir, "notes.txt"))

	images, labels, err := DiscoverInputs(dir)
	if err != nil {
		t.Fatalf("DiscoverInputs error: %v", err)
	}
	if want := filepath.Join(dir, "train_images.pk"); images != want {
		t.Fatalf("images=%s want %s", images, want)
	}
	if want := filepath.Join(dir, "nested", "train_label.npy"); labels != want {
		t.Fatalf("labels=%s want %s", labels, want)
	}
}

func TestDiscoverArraysSorted(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "b_images.npy"))
	mustWrite(t, filepath.Join(dir, "a_images.npy"))
	mustWrite(t, filepath.Join(dir, "images.csv"))

	found, err := DiscoverArrays(dir, imagesRegexp)
	if err != nil {
		t.Fatalf("DiscoverArrays error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a_images.npy"),
		filepath.Join(dir, "b_images.npy"),
	}
	if len(found) != len(want) {
		t.Fatalf("expected %d arrays, got %v", len(want), found)
	}
	for i := range want {
		if found[i] != want[i] {
			t.Fatalf("found[%d]=%s want %s", i, found[i], want[i])
		}
	}
}

func TestDiscoverInputsMissing(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "train_images.npy"))
	if _, _, err := DiscoverInputs(dir); !errors.Is(err, ErrInputsNotFound) {
		t.Fatalf("expected ErrInputsNotFound, got %v", err)
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
