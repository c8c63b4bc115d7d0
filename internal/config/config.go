package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/biotracer/agent/internal/files"
	"github.com/biotracer/agent/internal/targets"
	"github.com/biotracer/agent/internal/tracker"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	EnvApiKey     = "TRACER_API_KEY"
	EnvServiceUrl = "TRACER_SERVICE_URL"

	DefaultServiceUrl = "https://app.tracer.bio/api/data-collector-api"

	defaultConfigFileFromHome = ".config/tracer/tracer.yaml"

	minProcessPollingInterval  = time.Millisecond * 100
	minBatchSubmissionInterval = time.Second
	minFilePollingInterval     = time.Second
	minMetricsInterval         = time.Second
)

type PatternKind string

const (
	PatternDirectory PatternKind = "directory"
	PatternFilename  PatternKind = "filename"
	PatternPath      PatternKind = "path"
)

// FilePattern is the configuration form of a files.Rule.
type FilePattern struct {
	Kind   PatternKind `yaml:"kind"`
	Value  string      `yaml:"value"`
	Upload bool        `yaml:"upload"`
}

type Config struct {
	ApiKey     string `yaml:"api_key"`
	ServiceUrl string `yaml:"service_url"`

	ProcessPollingInterval  time.Duration `yaml:"process_polling_interval"`
	BatchSubmissionInterval time.Duration `yaml:"batch_submission_interval"`
	FilePollingInterval     time.Duration `yaml:"file_polling_interval"`
	MetricsInterval         time.Duration `yaml:"process_metrics_interval"`
	WarmupPolls             int           `yaml:"warmup_polls"`
	FileSettleDuration      time.Duration `yaml:"file_settle_duration"`

	WorkflowDirectory string `yaml:"workflow_directory"`
	CacheDirectory    string `yaml:"cache_directory"`
	ExportDirectory   string `yaml:"export_directory"`
	DatabasePath      string `yaml:"database_path"`
	SocketPath        string `yaml:"socket_path"`

	// S3Bucket enables the S3 exporter. Credentials come from the default aws chain.
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
	AwsRegion string `yaml:"aws_region"`

	ResolvePublicIp  bool `yaml:"resolve_public_ip"`
	ListenExecEvents bool `yaml:"listen_exec_events"`

	Targets           []targets.Target `yaml:"targets"`
	FilePatterns      []FilePattern    `yaml:"file_patterns"`
	DatasetExtensions []string         `yaml:"dataset_extensions"`
}

func Default() *Config {
	return &Config{
		ServiceUrl:              DefaultServiceUrl,
		ProcessPollingInterval:  time.Second,
		BatchSubmissionInterval: time.Second * 5,
		FilePollingInterval:     time.Second * 5,
		MetricsInterval:         time.Second * 10,
		WarmupPolls:             2,
		FileSettleDuration:      time.Second * 10,
		WorkflowDirectory:       "/tmp/tracer/workflow",
		CacheDirectory:          "/tmp/tracer/cache",
		ExportDirectory:         "/tmp/tracer/exports",
		SocketPath:              "/tmp/tracer/tracerd.sock",
		ListenExecEvents:        true,
		Targets:                 targets.DefaultTargets(),
		FilePatterns: []FilePattern{
			{Kind: PatternFilename, Value: `Log\.final\.out`, Upload: true},
			{Kind: PatternFilename, Value: `\.narrowPeak`, Upload: true},
			{Kind: PatternFilename, Value: `_counts\.summary`, Upload: true},
		},
		DatasetExtensions: tracker.DefaultDatasetExtensions(),
	}
}

// DefaultPath is the config file under the user's home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigFileFromHome)
}

// Load layers the file at path, when it exists, over the defaults and then applies the
// environment overrides. Lists given in the file replace the default lists.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		content, err := ioutil.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(content, config); err != nil {
				return nil, errors.WithMessagef(err, "parse config file '%s'", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.WithMessagef(err, "read config file '%s'", path)
		}
	}

	if apiKey, found := os.LookupEnv(EnvApiKey); found {
		config.ApiKey = apiKey
	}
	if serviceUrl, found := os.LookupEnv(EnvServiceUrl); found {
		config.ServiceUrl = serviceUrl
	}

	return config, nil
}

func (c *Config) Valid() (bool, error) {
	intervals := []struct {
		name    string
		value   time.Duration
		minimum time.Duration
	}{
		{"process polling interval", c.ProcessPollingInterval, minProcessPollingInterval},
		{"batch submission interval", c.BatchSubmissionInterval, minBatchSubmissionInterval},
		{"file polling interval", c.FilePollingInterval, minFilePollingInterval},
		{"process metrics interval", c.MetricsInterval, minMetricsInterval},
	}

	for _, interval := range intervals {
		if interval.value <= 0 {
			return false, errors.Errorf("uninitialized %s", interval.name)
		} else if interval.value < interval.minimum {
			return false, errors.Errorf("below minimum allowed %s (min: '%s')", interval.name,
				interval.minimum.String())
		}
	}

	if c.WarmupPolls < 0 {
		return false, errors.New("negative warmup polls")
	}
	if c.FileSettleDuration < 0 {
		return false, errors.New("negative file settle duration")
	}
	if c.WorkflowDirectory == "" {
		return false, errors.New("empty workflow directory")
	}
	if c.CacheDirectory == "" {
		return false, errors.New("empty cache directory")
	}
	if c.SocketPath == "" {
		return false, errors.New("empty socket path")
	}

	if _, err := c.Catalog(); err != nil {
		return false, err
	}
	if _, err := c.FileRules(); err != nil {
		return false, err
	}

	return true, nil
}

func (c *Config) Catalog() (*targets.Catalog, error) {
	catalog, err := targets.NewCatalog(c.Targets)
	if err != nil {
		return nil, errors.WithMessage(err, "build target catalog")
	}
	return catalog, nil
}

// FileRules converts the file patterns, keeping their order.
func (c *Config) FileRules() ([]files.Rule, error) {
	rules := make([]files.Rule, 0, len(c.FilePatterns))

	for i, pattern := range c.FilePatterns {
		action := files.ActionNone
		if pattern.Upload {
			action = files.ActionUpload
		}

		var (
			rule files.Rule
			err  error
		)
		switch pattern.Kind {
		case PatternDirectory:
			rule = files.NewDirectoryRule(pattern.Value, action)
		case PatternFilename:
			rule, err = files.NewFilenameRule(pattern.Value, action)
		case PatternPath:
			rule, err = files.NewPathRule(pattern.Value, action)
		default:
			err = errors.Errorf("unknown kind '%s'", pattern.Kind)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "file pattern #%d", i)
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

func (c *Config) TrackerConfig() *tracker.Config {
	return &tracker.Config{
		MetricsInterval:   c.MetricsInterval,
		WarmupPolls:       c.WarmupPolls,
		DatasetExtensions: c.DatasetExtensions,
	}
}

func (c *Config) WatcherConfig() *files.WatcherConfig {
	return &files.WatcherConfig{
		CacheDirectory: c.CacheDirectory,
		SettleDuration: c.FileSettleDuration,
	}
}
