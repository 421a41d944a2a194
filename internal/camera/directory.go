package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNoFrames is returned when the source directory has no images.
var ErrNoFrames = errors.New("camera: no images in source directory")

// DirectorySource cycles through the JPEG and PNG files of a directory,
// rescanning it each time it wraps around.
type DirectorySource struct {
	dir string

	mu    sync.Mutex
	files []string
	next  int
}

func NewDirectorySource(dir string) *DirectorySource {
	return &DirectorySource{dir: dir}
}

func (d *DirectorySource) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	path, err := d.nextFile()
	if err != nil {
		return Frame{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("read frame: %w", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	return Frame{Data: data, Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

func (d *DirectorySource) nextFile() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next >= len(d.files) {
		files, err := scanImages(d.dir)
		if err != nil {
			return "", err
		}
		d.files = files
		d.next = 0
	}
	if len(d.files) == 0 {
		return "", ErrNoFrames
	}
	path := d.files[d.next]
	d.next++
	return path, nil
}

func scanImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan camera dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
