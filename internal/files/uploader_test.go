package files

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPinnedUploader(t *testing.T, at *time.Time) (*DirectoryUploader, string) {
	directory := filepath.Join(t.TempDir(), "uploads")

	uploader, err := NewDirectoryUploader(directory)
	require.NoError(t, err)
	uploader.clock = func() time.Time { return *at }
	return uploader, directory
}

// uploaded lists the files in directory and their sorted contents.
func uploaded(t *testing.T, directory string) (names []string, contents []string) {
	infos, err := ioutil.ReadDir(directory)
	require.NoError(t, err)

	for _, info := range infos {
		content, err := ioutil.ReadFile(filepath.Join(directory, info.Name()))
		require.NoError(t, err)
		names = append(names, info.Name())
		contents = append(contents, string(content))
	}
	sort.Strings(contents)
	return names, contents
}

func TestDirectoryUploaderKeepsVersions(t *testing.T) {
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	uploader, directory := newPinnedUploader(t, &at)
	source := filepath.Join(t.TempDir(), "Log.final.out")

	writeFile(t, source, "first")
	require.NoError(t, uploader.Upload(context.Background(), "Log.final.out", source))

	at = at.Add(time.Minute)
	writeFile(t, source, "second")
	require.NoError(t, uploader.Upload(context.Background(), "Log.final.out", source))

	names, contents := uploaded(t, directory)
	require.Len(t, names, 2)
	assert.Equal(t, []string{"first", "second"}, contents)
	for _, name := range names {
		assert.True(t, strings.HasSuffix(name, "-Log.final.out"), name)
	}
	sort.Strings(names)
	assert.True(t, strings.HasPrefix(names[0], "20240601T080000-"), names[0])
	assert.True(t, strings.HasPrefix(names[1], "20240601T080100-"), names[1])
}

func TestDirectoryUploaderSameBaseNameSameSecond(t *testing.T) {
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	uploader, directory := newPinnedUploader(t, &at)

	sampleA := filepath.Join(t.TempDir(), "sampleA", "Log.final.out")
	sampleB := filepath.Join(t.TempDir(), "sampleB", "Log.final.out")
	writeFile(t, sampleA, "sample A")
	writeFile(t, sampleB, "sample B")

	require.NoError(t, uploader.Upload(context.Background(), "sampleA/Log.final.out", sampleA))
	require.NoError(t, uploader.Upload(context.Background(), "sampleB/Log.final.out", sampleB))

	names, contents := uploaded(t, directory)
	require.Len(t, names, 2)
	assert.Equal(t, []string{"sample A", "sample B"}, contents)
}

func TestDirectoryUploaderMissingSource(t *testing.T) {
	uploader, err := NewDirectoryUploader(t.TempDir())
	require.NoError(t, err)

	err = uploader.Upload(context.Background(), "gone.txt", filepath.Join(t.TempDir(), "gone.txt"))
	assert.Error(t, err)
}
