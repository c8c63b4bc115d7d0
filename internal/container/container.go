package container

import (
	"bufio"
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/biotracer/agent/internal/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"
)

const (
	awsBatchJobIdEnv      = "AWS_BATCH_JOB_ID"
	defaultProcRoot       = "/proc"
	defaultInspectTimeout = time.Second * 2
	inspectedSize         = 256
)

// Info is the best-effort container identity of a process.
type Info struct {
	ContainerID   null.String
	AwsBatchJobID null.String
	Env           map[string]string
}

func emptyInfo() *Info {
	return &Info{Env: make(map[string]string)}
}

// Inspector fetches a container's environment variables.
type Inspector interface {
	InspectEnv(ctx context.Context, containerID string) (map[string]string, error)
}

type Resolver struct {
	logger         *zap.Logger
	procRoot       string
	inspector      Inspector
	inspectTimeout time.Duration
	// inspected holds the environment of every recently inspected container, failures included,
	// so each container is inspected at most once while it stays in the cache.
	inspected *lru.Cache[string, map[string]string]
}

func NewResolver(rootLogger *zap.Logger, inspector Inspector) (*Resolver, error) {
	inspected, err := lru.New[string, map[string]string](inspectedSize)
	if err != nil {
		return nil, errors.WithMessage(err, "new inspected containers cache")
	}

	return &Resolver{
		logger:         rootLogger.Named("container-resolver"),
		procRoot:       defaultProcRoot,
		inspector:      inspector,
		inspectTimeout: defaultInspectTimeout,
		inspected:      inspected,
	}, nil
}

// Resolve never fails: anything that goes wrong yields an empty Info.
func (r *Resolver) Resolve(pid types.Pid) *Info {
	info := emptyInfo()
	funcLogger := r.logger.With(zap.Int32("Pid", int32(pid)))

	content, err := ioutil.ReadFile(filepath.Join(r.procRoot, pid.String(), "cgroup"))
	if err != nil {
		funcLogger.Debug("Failed to read cgroup file", zap.Error(err))
		return info
	}

	containerID, found := ParseCgroup(string(content))
	if !found {
		return info
	}
	info.ContainerID = null.StringFrom(containerID)

	if r.inspector == nil {
		return info
	}

	info.Env = r.inspect(funcLogger, containerID)
	if jobId, found := info.Env[awsBatchJobIdEnv]; found {
		info.AwsBatchJobID = null.StringFrom(jobId)
	}
	return info
}

func (r *Resolver) inspect(funcLogger *zap.Logger, containerID string) map[string]string {
	if env, found := r.inspected.Get(containerID); found {
		return env
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.inspectTimeout)
	defer cancel()

	env, err := r.inspector.InspectEnv(ctx, containerID)
	if err != nil {
		funcLogger.Debug("Failed to inspect container", zap.String("ContainerId", containerID), zap.Error(err))
		env = make(map[string]string)
	}

	r.inspected.Add(containerID, env)
	return env
}

// ParseCgroup extracts a docker container id from /proc/<pid>/cgroup content. Only path
// segments of the form docker-<id>[.scope] are recognized.
func ParseCgroup(content string) (string, bool) {
	for _, line := range strings.Split(content, "\n") {
		if !strings.Contains(line, "docker") {
			continue
		}

		for _, segment := range strings.Split(line, "/") {
			if !strings.HasPrefix(segment, "docker-") {
				continue
			}
			containerID := strings.TrimSuffix(strings.TrimPrefix(segment, "docker-"), ".scope")
			if containerID != "" {
				return containerID, true
			}
		}
	}
	return "", false
}

// ParseEnv parses newline-delimited KEY=VALUE pairs. Lines without '=' are ignored.
func ParseEnv(output []byte) map[string]string {
	env := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		index := strings.IndexByte(line, '=')
		if index <= 0 {
			continue
		}
		env[line[:index]] = line[index+1:]
	}
	return env
}
