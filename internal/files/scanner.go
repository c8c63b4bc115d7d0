package files

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Info is one watched file as of the scan that produced it.
type Info struct {
	Path       string
	Name       string
	Directory  string
	Size       int64
	LastUpdate time.Time
	CachedPath string
	Action     Action
}

// SourcePath is where uploads read from: the cached copy when there is one.
func (i *Info) SourcePath() string {
	if i.CachedPath != "" {
		return i.CachedPath
	}
	return i.Path
}

type Scanner struct {
	logger *zap.Logger
	rules  []Rule
}

func NewScanner(rootLogger *zap.Logger, rules []Rule) *Scanner {
	return &Scanner{
		logger: rootLogger.Named("file-scanner"),
		rules:  rules,
	}
}

// Scan walks root recursively and returns every regular file matched by a rule, keyed by path.
// A missing root yields an empty map.
func (s *Scanner) Scan(root string) (map[string]*Info, error) {
	found := make(map[string]*Info)

	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return found, nil
		}
		return nil, errors.WithMessagef(err, "stat root '%s'", root)
	}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug("Failed to read entry, skipping", zap.String("Path", path), zap.Error(err))
			if entry != nil && entry.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		s.evaluate(found, path, entry)
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "walk '%s'", root)
	}

	return found, nil
}

func (s *Scanner) evaluate(found map[string]*Info, path string, entry fs.DirEntry) {
	directory := filepath.Dir(path)
	name := entry.Name()

	var matched *Rule
	for i := range s.rules {
		if s.rules[i].Pattern.Match(directory, name, path) {
			matched = &s.rules[i]
		}
	}
	if matched == nil {
		return
	}

	fileInfo, err := entry.Info()
	if err != nil {
		s.logger.Debug("Failed to stat file, skipping", zap.String("Path", path), zap.Error(err))
		return
	}

	found[path] = &Info{
		Path:       path,
		Name:       name,
		Directory:  directory,
		Size:       fileInfo.Size(),
		LastUpdate: fileInfo.ModTime().UTC(),
		Action:     matched.Action,
	}
}
