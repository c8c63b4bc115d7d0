package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/biotracer/agent/internal/files"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "tracer.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	config := Default()

	valid, err := config.Valid()
	require.NoError(t, err)
	assert.True(t, valid)

	catalog, err := config.Catalog()
	require.NoError(t, err)
	assert.Equal(t, len(config.Targets), catalog.Len())

	rules, err := config.FileRules()
	require.NoError(t, err)
	assert.Len(t, rules, 3)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvApiKey, "from-env")

	config, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", config.ApiKey)
	assert.Equal(t, DefaultServiceUrl, config.ServiceUrl)
	assert.Equal(t, 2, config.WarmupPolls)
}

func TestLoadLayersFileAndEnvironment(t *testing.T) {
	t.Setenv(EnvServiceUrl, "http://localhost:3000/api")

	path := writeConfig(t, `
api_key: from-file
service_url: http://ignored
process_polling_interval: 250ms
file_settle_duration: 30s
workflow_directory: /data/run
s3_bucket: tracer-client-events
aws_region: us-east-2
targets:
  - name: {kind: exact, value: STAR}
  - command: {kind: regex, value: "nextflow .* run"}
    display_name: {static: nextflow}
    merge_with_parents: true
file_patterns:
  - {kind: path, value: "/results/.*\\.html$", upload: true}
  - {kind: directory, value: /data/run/tmp}
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", config.ApiKey)
	assert.Equal(t, "http://localhost:3000/api", config.ServiceUrl)
	assert.Equal(t, 250*time.Millisecond, config.ProcessPollingInterval)
	assert.Equal(t, 30*time.Second, config.FileSettleDuration)
	assert.Equal(t, 5*time.Second, config.BatchSubmissionInterval)
	assert.Equal(t, "/data/run", config.WorkflowDirectory)
	assert.Equal(t, "tracer-client-events", config.S3Bucket)
	assert.Equal(t, "us-east-2", config.AwsRegion)
	assert.Empty(t, config.S3Prefix)

	require.Len(t, config.Targets, 2)
	assert.True(t, config.Targets[1].MergeWithParents)
	assert.Equal(t, "nextflow", config.Targets[1].DisplayName.Static)

	catalog, err := config.Catalog()
	require.NoError(t, err)
	target, found := catalog.Match("STAR", "STAR --runMode alignReads", "")
	require.True(t, found)
	assert.Equal(t, "STAR", target.Name.Value)

	rules, err := config.FileRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, files.ActionUpload, rules[0].Action)
	assert.True(t, rules[0].Pattern.Match("/results", "qc.html", "/results/qc.html"))
	assert.Equal(t, files.ActionNone, rules[1].Action)
	assert.True(t, rules[1].Pattern.Match("/data/run/tmp", "x", "/data/run/tmp/x"))

	valid, err := config.Valid()
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "targets: [unterminated"))
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(config *Config)
	}{
		{"zero polling interval", func(c *Config) { c.ProcessPollingInterval = 0 }},
		{"polling below minimum", func(c *Config) { c.ProcessPollingInterval = time.Millisecond }},
		{"submission below minimum", func(c *Config) { c.BatchSubmissionInterval = time.Millisecond }},
		{"file polling unset", func(c *Config) { c.FilePollingInterval = 0 }},
		{"metrics below minimum", func(c *Config) { c.MetricsInterval = time.Millisecond }},
		{"negative warmup", func(c *Config) { c.WarmupPolls = -1 }},
		{"no workflow directory", func(c *Config) { c.WorkflowDirectory = "" }},
		{"no cache directory", func(c *Config) { c.CacheDirectory = "" }},
		{"no socket", func(c *Config) { c.SocketPath = "" }},
		{"bad file pattern", func(c *Config) {
			c.FilePatterns = append(c.FilePatterns, FilePattern{Kind: PatternFilename, Value: "(["})
		}},
		{"unknown pattern kind", func(c *Config) {
			c.FilePatterns = []FilePattern{{Kind: "glob", Value: "*"}}
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := Default()
			test.mutate(config)

			valid, err := config.Valid()
			assert.False(t, valid)
			assert.Error(t, err)
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	config := Default()

	trackerConfig := config.TrackerConfig()
	assert.Equal(t, config.MetricsInterval, trackerConfig.MetricsInterval)
	assert.Equal(t, config.WarmupPolls, trackerConfig.WarmupPolls)

	watcherConfig := config.WatcherConfig()
	assert.Equal(t, config.CacheDirectory, watcherConfig.CacheDirectory)
	assert.Equal(t, config.FileSettleDuration, watcherConfig.SettleDuration)
}
