package exporters

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/biotracer/agent/internal/events"
	"github.com/pkg/errors"
)

const defaultRunFileName = "events"

// FileExporter appends events as JSON lines to one file per run.
type FileExporter struct {
	directory string
}

func NewFileExporter(directory string) (*FileExporter, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, errors.WithMessagef(err, "create export directory '%s'", directory)
	}
	return &FileExporter{directory: directory}, nil
}

func (fe *FileExporter) Name() string {
	return "file"
}

// Path returns the file events of runName are appended to.
func (fe *FileExporter) Path(runName string) string {
	return filepath.Join(fe.directory, runFileName(runName)+".jsonl")
}

// runFileName reduces runName to a single path segment.
func runFileName(runName string) string {
	name := filepath.Base(filepath.Clean("/" + runName))
	if name == "/" || name == "." {
		return defaultRunFileName
	}
	return name
}

func encodeLines(w io.Writer, batch []events.Event) error {
	encoder := json.NewEncoder(w)
	for i := range batch {
		if err := encoder.Encode(&batch[i]); err != nil {
			return errors.WithMessagef(err, "encode event '%s'", batch[i].ID)
		}
	}
	return nil
}

func (fe *FileExporter) Export(ctx context.Context, runName string, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	file, err := os.OpenFile(fe.Path(runName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WithMessage(err, "open export file")
	}

	writer := bufio.NewWriter(file)
	if err := encodeLines(writer, batch); err != nil {
		file.Close()
		return err
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		return errors.WithMessage(err, "flush export file")
	}
	return file.Close()
}

func (fe *FileExporter) Close() error {
	return nil
}
