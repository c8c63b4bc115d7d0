package host

import (
	"context"
	"net"

	"github.com/biotracer/agent/internal/events"
	"github.com/biotracer/agent/internal/types"
	"github.com/glendc/go-external-ip"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/host"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"
)

// IpResolver finds the host's public address.
type IpResolver interface {
	ExternalIP() (net.IP, error)
}

type infoFunc func(ctx context.Context) (*host.InfoStat, error)

// PropertiesCollector describes the host a run executes on.
type PropertiesCollector struct {
	logger     *zap.Logger
	machineId  string
	ipResolver IpResolver
	info       infoFunc
}

// NewPropertiesCollector builds a collector. Without resolvePublicIp no outgoing request is made
// and the public address is left empty.
func NewPropertiesCollector(rootLogger *zap.Logger, machineId string, resolvePublicIp bool) *PropertiesCollector {
	var resolver IpResolver
	if resolvePublicIp {
		resolver = externalip.DefaultConsensus(nil, nil)
	}

	return &PropertiesCollector{
		logger:     rootLogger.Named("host-properties"),
		machineId:  machineId,
		ipResolver: resolver,
		info:       host.InfoWithContext,
	}
}

// Collect reads the host information. The public address is best-effort.
func (pc *PropertiesCollector) Collect(ctx context.Context) (*events.HostProperties, error) {
	hostInfo, err := pc.info(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "get host info")
	}

	properties := &events.HostProperties{
		MachineId:            pc.machineId,
		Hostname:             hostInfo.Hostname,
		OS:                   hostInfo.OS,
		Platform:             hostInfo.Platform,
		PlatformFamily:       hostInfo.PlatformFamily,
		PlatformVersion:      hostInfo.PlatformVersion,
		KernelVersion:        hostInfo.KernelVersion,
		KernelArch:           hostInfo.KernelArch,
		VirtualizationSystem: hostInfo.VirtualizationSystem,
		VirtualizationRole:   hostInfo.VirtualizationRole,
	}
	if hostInfo.BootTime > 0 {
		properties.LastBootTime = null.TimeFrom(types.TimeFromTimestamp(int64(hostInfo.BootTime)))
	}

	if pc.ipResolver != nil {
		publicIpAddress, err := pc.ipResolver.ExternalIP()
		if err != nil {
			pc.logger.Debug("Failed to resolve public ip address", zap.Error(err))
		} else {
			properties.PublicIpAddress = publicIpAddress.String()
		}
	}

	return properties, nil
}
