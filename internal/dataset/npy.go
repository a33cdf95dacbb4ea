package dataset

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sbinet/npyio"
)

// Load reads a 4-D image array (N, H, W, C) and a label array with N
// entries from .npy files. Labels of shape (N, 1) are accepted.
func Load(imagesPath, labelsPath string) (*Dataset, error) {
	images, shape, err := readNpy(imagesPath)
	if err != nil {
		return nil, err
	}
	if len(shape) != 4 {
		return nil, fmt.Errorf("%w: %s has shape %v, want (N, H, W, C)", ErrShapeMismatch, imagesPath, shape)
	}
	labels, lshape, err := readNpy(labelsPath)
	if err != nil {
		return nil, err
	}
	if len(lshape) > 2 || (len(lshape) == 2 && lshape[1] != 1) {
		return nil, fmt.Errorf("%w: %s has shape %v, want (N,) or (N, 1)", ErrShapeMismatch, labelsPath, lshape)
	}
	ds, err := New(images, labels, shape[1], shape[2], shape[3])
	if err != nil {
		return nil, fmt.Errorf("load %s, %s: %w", imagesPath, labelsPath, err)
	}
	return ds, nil
}

// readNpy decodes a numpy array file into float32 values and its shape.
// The array is read in its stored dtype and converted afterwards.
func readNpy(path string) ([]float32, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, nil, fmt.Errorf("read npy header %s: %w", path, err)
	}
	descr := r.Header.Descr
	shape := append([]int(nil), descr.Shape...)
	if descr.Fortran && len(shape) > 1 {
		return nil, nil, fmt.Errorf("%s: fortran-ordered arrays are not supported", path)
	}
	n := 1
	for _, d := range shape {
		n *= d
	}

	var values []float32
	switch strings.TrimLeft(descr.Type, "<>|=") {
	case "f4":
		values = make([]float32, n)
		err = r.Read(&values)
	case "f8":
		values, err = readAs[float64](r, n)
	case "i8":
		values, err = readAs[int64](r, n)
	case "i4":
		values, err = readAs[int32](r, n)
	case "i2":
		values, err = readAs[int16](r, n)
	case "i1":
		values, err = readAs[int8](r, n)
	case "u1":
		values, err = readAs[uint8](r, n)
	case "b1":
		raw := make([]bool, n)
		if err = r.Read(&raw); err == nil {
			values = make([]float32, n)
			for i, b := range raw {
				if b {
					values[i] = 1
				}
			}
		}
	default:
		return nil, nil, fmt.Errorf("%s: unsupported npy dtype %q", path, descr.Type)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read npy %s: %w", path, err)
	}
	if len(values) != n {
		return nil, nil, fmt.Errorf("%w: %s holds %d values, shape %v needs %d", ErrShapeMismatch, path, len(values), shape, n)
	}
	return values, shape, nil
}

type npyNumber interface {
	float64 | int64 | int32 | int16 | int8 | uint8
}

type npyDecoder interface {
	Read(ptr any) error
}

func readAs[T npyNumber](r npyDecoder, n int) ([]float32, error) {
	raw := make([]T, n)
	if err := r.Read(&raw); err != nil {
		return nil, err
	}
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
