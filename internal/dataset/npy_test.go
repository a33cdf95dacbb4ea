package dataset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeNpy writes data the way numpy.save does for a C-ordered array.
func writeNpy(t *testing.T, path, descr string, data any, shape ...int) {
	t.Helper()
	writeNpyHeader(t, path, descr, false, data, shape...)
}

func writeNpyHeader(t *testing.T, path, descr string, fortran bool, data any, shape ...int) {
	t.Helper()
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	tuple := "(" + strings.Join(dims, ", ") + ")"
	if len(shape) == 1 {
		tuple = "(" + dims[0] + ",)"
	}
	order := "False"
	if fortran {
		order = "True"
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': %s, 'shape': %s, }", descr, order, tuple)
	pad := 64 - (10+len(dict)+1)%64
	if pad == 64 {
		pad = 0
	}
	dict += strings.Repeat(" ", pad) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(dict))); err != nil {
		t.Fatalf("header length: %v", err)
	}
	buf.WriteString(dict)
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFloat64ImagesIntLabels(t *testing.T) {
	dir := t.TempDir()
	images := make([]float64, 3*2*2*2)
	for i := range images {
		images[i] = float64(i) / 2
	}
	writeNpy(t, filepath.Join(dir, "images.npy"), "<f8", images, 3, 2, 2, 2)
	writeNpy(t, filepath.Join(dir, "labels.npy"), "<i8", []int64{1, 0, 1}, 3)

	ds, err := Load(filepath.Join(dir, "images.npy"), filepath.Join(dir, "labels.npy"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ds.N != 3 || ds.Height != 2 || ds.Width != 2 || ds.Channels != 2 {
		t.Fatalf("unexpected dataset shape N=%d %dx%dx%d", ds.N, ds.Height, ds.Width, ds.Channels)
	}
	for i, v := range ds.Images {
		if v != float32(images[i]) {
			t.Fatalf("image value %d = %v want %v", i, v, images[i])
		}
	}
	want := []float32{1, 0, 1}
	for i := range want {
		if ds.Labels[i] != want[i] {
			t.Fatalf("label %d = %v want %v", i, ds.Labels[i], want[i])
		}
	}
}

func TestLoadColumnLabels(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, filepath.Join(dir, "images.npy"), "<f4", make([]float32, 2*3*3*1), 2, 3, 3, 1)
	writeNpy(t, filepath.Join(dir, "labels.npy"), "<f4", []float32{0, 1}, 2, 1)

	ds, err := Load(filepath.Join(dir, "images.npy"), filepath.Join(dir, "labels.npy"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ds.N != 2 || ds.Labels[1] != 1 {
		t.Fatalf("unexpected dataset N=%d labels=%v", ds.N, ds.Labels)
	}
}

func TestLoadRejectsCountMismatch(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, filepath.Join(dir, "images.npy"), "<f4", make([]float32, 2*2*2*1), 2, 2, 2, 1)
	writeNpy(t, filepath.Join(dir, "labels.npy"), "<f4", []float32{0, 1, 1}, 3)

	_, err := Load(filepath.Join(dir, "images.npy"), filepath.Join(dir, "labels.npy"))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestLoadRejectsFlatImages(t *testing.T) {
	dir := t.TempDir()
	writeNpy(t, filepath.Join(dir, "images.npy"), "<f4", make([]float32, 8), 8)
	writeNpy(t, filepath.Join(dir, "labels.npy"), "<f4", []float32{0}, 1)

	_, err := Load(filepath.Join(dir, "images.npy"), filepath.Join(dir, "labels.npy"))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.npy"), "also-missing.npy"); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoadLabelDtypes(t *testing.T) {
	cases := []struct {
		descr string
		data  any
	}{
		{"<i8", []int64{1, 0}},
		{"<i4", []int32{1, 0}},
		{"|i1", []int8{1, 0}},
		{"|u1", []uint8{1, 0}},
		{"|b1", []bool{true, false}},
		{"<f4", []float32{1, 0}},
		{"<f8", []float64{1, 0}},
	}
	for _, tc := range cases {
		dir := t.TempDir()
		writeNpy(t, filepath.Join(dir, "images.npy"), "<f4", make([]float32, 2*2*2*1), 2, 2, 2, 1)
		writeNpy(t, filepath.Join(dir, "labels.npy"), tc.descr, tc.data, 2)

		ds, err := Load(filepath.Join(dir, "images.npy"), filepath.Join(dir, "labels.npy"))
		if err != nil {
			t.Fatalf("%s: Load: %v", tc.descr, err)
		}
		if ds.Labels[0] != 1 || ds.Labels[1] != 0 {
			t.Fatalf("%s: labels = %v, want [1 0]", tc.descr, ds.Labels)
		}
	}
}

func TestLoadRejectsFortranOrder(t *testing.T) {
	dir := t.TempDir()
	writeNpyHeader(t, filepath.Join(dir, "images.npy"), "<f4", true, make([]float32, 2*2*2*1), 2, 2, 2, 1)
	writeNpy(t, filepath.Join(dir, "labels.npy"), "<f4", []float32{0, 1}, 2)

	if _, err := Load(filepath.Join(dir, "images.npy"), filepath.Join(dir, "labels.npy")); err == nil {
		t.Fatal("expected error for a fortran-ordered array")
	}
}
