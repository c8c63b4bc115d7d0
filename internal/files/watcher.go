package files

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	agentErrors "github.com/biotracer/agent/internal/errors"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Uploader ships a ready file. name is the original base name, path is where to read from.
type Uploader interface {
	Upload(ctx context.Context, name, path string) error
}

var errSourceVanished = errors.New("source file vanished")

type uploadType int

const (
	uploadNone uploadType = iota
	uploadOld
	uploadNew
)

type WatcherConfig struct {
	CacheDirectory string
	// SettleDuration is how far a file's modification time has to move past the previous
	// observation before an upload-tagged file is considered ready.
	SettleDuration time.Duration
}

// Watcher compares consecutive scans, caches changed files and uploads the ones that are ready.
type Watcher struct {
	logger   *zap.Logger
	scanner  *Scanner
	uploader Uploader
	config   *WatcherConfig
	watched  map[string]*Info
}

func NewWatcher(rootLogger *zap.Logger, scanner *Scanner, uploader Uploader, config *WatcherConfig) *Watcher {
	return &Watcher{
		logger:   rootLogger.Named("file-watcher"),
		scanner:  scanner,
		uploader: uploader,
		config:   config,
		watched:  make(map[string]*Info),
	}
}

// PrepareCacheDirectory wipes and recreates the cache directory.
func (w *Watcher) PrepareCacheDirectory() error {
	if err := os.RemoveAll(w.config.CacheDirectory); err != nil {
		return errors.WithMessagef(err, "remove cache directory '%s'", w.config.CacheDirectory)
	}
	if err := os.MkdirAll(w.config.CacheDirectory, 0o755); err != nil {
		return errors.WithMessagef(err, "create cache directory '%s'", w.config.CacheDirectory)
	}
	return nil
}

func checkUpload(settle time.Duration, oldInfo, newInfo *Info) uploadType {
	switch {
	case oldInfo != nil && newInfo != nil:
		if oldInfo.Action == ActionUpload {
			// A shrinking file was finalized or rotated; the previous content is what we want.
			if newInfo.Size < oldInfo.Size {
				return uploadOld
			}
			return uploadNone
		}
		if newInfo.Action == ActionUpload && newInfo.LastUpdate.Sub(oldInfo.LastUpdate) > settle {
			return uploadNew
		}
		return uploadNone
	case oldInfo != nil:
		if oldInfo.Action == ActionUpload {
			return uploadOld
		}
		return uploadNone
	default:
		// First observation: there is no baseline to judge against yet.
		return uploadNone
	}
}

// ReadyFiles returns the files to upload for a transition from previous to current, in path
// order.
func ReadyFiles(settle time.Duration, previous, current map[string]*Info) []*Info {
	paths := make(map[string]struct{}, len(previous)+len(current))
	for path := range previous {
		paths[path] = struct{}{}
	}
	for path := range current {
		paths[path] = struct{}{}
	}

	sorted := make([]string, 0, len(paths))
	for path := range paths {
		sorted = append(sorted, path)
	}
	sort.Strings(sorted)

	ready := make([]*Info, 0)
	for _, path := range sorted {
		oldInfo, newInfo := previous[path], current[path]
		switch checkUpload(settle, oldInfo, newInfo) {
		case uploadOld:
			ready = append(ready, oldInfo)
		case uploadNew:
			ready = append(ready, newInfo)
		}
	}
	return ready
}

// PollFiles runs one scan cycle over root. Ready files are uploaded first, then changed files
// are cached and the scan becomes the new baseline. Upload failures do not stop the cycle, so
// each ready file is attempted once. A file gone before its cache copy is skipped; any other
// caching failure aborts before the baseline is replaced.
func (w *Watcher) PollFiles(ctx context.Context, root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	found, err := w.scanner.Scan(root)
	if err != nil {
		return errors.WithMessage(err, "scan files")
	}

	var errs error
	for _, info := range ReadyFiles(w.config.SettleDuration, w.watched, found) {
		if err := w.upload(ctx, info); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	for path, newInfo := range found {
		oldInfo := w.watched[path]
		err := w.cacheIfChanged(oldInfo, newInfo)
		if err == nil {
			continue
		}
		if errors.Cause(err) != errSourceVanished {
			return multierror.Append(errs, err)
		}

		// Gone between the scan and the copy: the previous observation stays the baseline, so
		// the next cycle sees the file as vanished.
		w.logger.Debug("File vanished before caching", zap.String("Path", path))
		if oldInfo != nil {
			found[path] = oldInfo
		} else {
			delete(found, path)
		}
	}

	for path, oldInfo := range w.watched {
		if _, stillThere := found[path]; !stillThere {
			w.removeCachedCopy(oldInfo)
		}
	}

	w.watched = found
	return errs
}

func (w *Watcher) cacheIfChanged(oldInfo, newInfo *Info) error {
	if oldInfo == nil {
		if newInfo.Action != ActionUpload {
			return nil
		}
		return w.cacheFile(newInfo)
	}

	newInfo.CachedPath = oldInfo.CachedPath
	if !newInfo.LastUpdate.After(oldInfo.LastUpdate) {
		return nil
	}
	return w.cacheFile(newInfo)
}

func (w *Watcher) cacheFile(info *Info) error {
	if info.CachedPath == "" {
		name := strings.ReplaceAll(uuid.NewString(), "-", "")
		info.CachedPath = filepath.Join(w.config.CacheDirectory, name)
	}

	if err := copyFile(info.Path, info.CachedPath); err != nil {
		return agentErrors.WrappedErrCacheFile(err, info.Path)
	}
	return nil
}

func (w *Watcher) upload(ctx context.Context, info *Info) error {
	funcLogger := w.logger.With(zap.String("Path", info.Path), zap.String("Source", info.SourcePath()))
	funcLogger.Info("Uploading file")

	if err := w.uploader.Upload(ctx, info.Name, info.SourcePath()); err != nil {
		funcLogger.Warn("Failed to upload file", zap.Error(err))
		return agentErrors.WrappedErrUploadFile(err, info.Path)
	}
	return nil
}

func (w *Watcher) removeCachedCopy(info *Info) {
	if info.CachedPath == "" {
		return
	}
	if err := os.Remove(info.CachedPath); err != nil && !os.IsNotExist(err) {
		w.logger.Debug("Failed to remove cached copy", zap.String("CachedPath", info.CachedPath), zap.Error(err))
	}
}

// FileByPathSuffix returns a watched file whose path ends with suffix. With several
// candidates the lexically first path wins.
func (w *Watcher) FileByPathSuffix(suffix string) (*Info, bool) {
	if suffix == "" {
		return nil, false
	}

	var match *Info
	for path, info := range w.watched {
		if !strings.HasSuffix(path, suffix) {
			continue
		}
		if match == nil || path < match.Path {
			match = info
		}
	}
	return match, match != nil
}

// Files returns the current baseline.
func (w *Watcher) Files() map[string]*Info {
	return w.watched
}

func copyFile(source, destination string) error {
	in, err := os.Open(source)
	if os.IsNotExist(err) {
		return errors.WithMessagef(errSourceVanished, "open source '%s'", source)
	} else if err != nil {
		return errors.WithMessage(err, "open source")
	}
	defer in.Close()

	out, err := os.Create(destination)
	if err != nil {
		return errors.WithMessage(err, "create destination")
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithMessage(err, "copy content")
	}
	return out.Close()
}
