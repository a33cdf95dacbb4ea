package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

var (
	imagesRegexp = regexp.MustCompile(`(?i)images?.*\.(npy|pk)$`)
	labelsRegexp = regexp.MustCompile(`(?i)labels?.*\.(npy|pk)$`)
)

// ErrInputsNotFound indicates a directory holds no image or label array.
var ErrInputsNotFound = errors.New("dataset: image and label arrays not found")

// DiscoverArrays returns the paths of numpy arrays beneath root whose file
// name matches re, sorted.
func DiscoverArrays(root string, re *regexp.Regexp) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if re.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover arrays: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// DiscoverInputs locates the image and label arrays under dir, for example
// train_images.npy and train_label.npy. The first match of each kind in
// lexical order wins.
func DiscoverInputs(dir string) (images, labels string, err error) {
	imgs, err := DiscoverArrays(dir, imagesRegexp)
	if err != nil {
		return "", "", err
	}
	lbls, err := DiscoverArrays(dir, labelsRegexp)
	if err != nil {
		return "", "", err
	}
	if len(imgs) == 0 || len(lbls) == 0 {
		return "", "", fmt.Errorf("%w under %s (images=%d labels=%d)", ErrInputsNotFound, dir, len(imgs), len(lbls))
	}
	return imgs[0], lbls[0], nil
}
