package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const uploadIdLength = 8

// DirectoryUploader keeps ready files in a local directory. It stands in for the collector
// service when no api key is configured.
type DirectoryUploader struct {
	directory string
	clock     func() time.Time
}

func NewDirectoryUploader(directory string) (*DirectoryUploader, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.WithMessagef(err, "create upload directory '%s'", directory)
	}
	return &DirectoryUploader{directory: directory, clock: time.Now}, nil
}

// Upload copies path to <directory>/<timestamp>-<short id>-<name>. Every upload gets its own
// file, even for files sharing a base name or uploaded within the same second.
func (du *DirectoryUploader) Upload(ctx context.Context, name, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	destination := filepath.Join(du.directory, du.uniqueName(filepath.Base(name)))
	return copyFile(path, destination)
}

func (du *DirectoryUploader) uniqueName(name string) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:uploadIdLength]
	return du.clock().UTC().Format("20060102T150405") + "-" + id + "-" + name
}
