package container

import (
	"context"
	"os/exec"

	"github.com/pkg/errors"
)

const envFormat = "{{range .Config.Env}}{{println .}}{{end}}"

// DockerInspector shells out to the docker CLI.
type DockerInspector struct {
	Binary string
}

func NewDockerInspector() *DockerInspector {
	return &DockerInspector{Binary: "docker"}
}

func (d *DockerInspector) InspectEnv(ctx context.Context, containerID string) (map[string]string, error) {
	path, err := exec.LookPath(d.Binary)
	if err != nil {
		return nil, errors.WithMessagef(err, "find '%s' binary", d.Binary)
	}

	output, err := exec.CommandContext(ctx, path, "inspect", "--format", envFormat, containerID).Output()
	if err != nil {
		return nil, errors.WithMessagef(err, "inspect container '%s'", containerID)
	}

	return ParseEnv(output), nil
}
