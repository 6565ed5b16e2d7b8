package fileedit

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// Image is an image file encoded for transport.
type Image struct {
	Path      string `json:"path"`
	MediaType string `json:"mediaType"`
	// Data is the base64 encoded file content.
	Data string `json:"data"`
	Size int64  `json:"size"`
}

// DataURL returns the image as a data: URL.
func (i *Image) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Data
}

// ReadImage loads an image and detects its media type from the content.
func (e *Editor) ReadImage(path string) (*Image, error) {
	info, err := e.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}
	if info.Size() > e.opts.MaxImageBytes {
		return nil, fmt.Errorf("%s is %d bytes, larger than the %d byte image limit", path, info.Size(), e.opts.MaxImageBytes)
	}

	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%s is not an image (detected %s)", path, mt.String())
	}

	return &Image{
		Path:      path,
		MediaType: mt.String(),
		Data:      base64.StdEncoding.EncodeToString(data),
		Size:      int64(len(data)),
	}, nil
}
