package host

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/pkg/errors"
)

const appId = "biotracer-agent"

// MachineId returns an identifier of this host that is stable across runs. The raw machine id
// is hashed with the application id so it is never exposed as is.
func MachineId() (string, error) {
	machineId, err := machineid.ProtectedID(appId)
	if err != nil {
		return "", errors.WithMessage(err, "get machine id")
	}
	return machineId, nil
}
