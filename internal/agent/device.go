package agent

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/smartedu360/licensor/internal/models"
)

// CollectDeviceInfo builds the device descriptor submitted with
// verification requests. The host id doubles as the stable device
// identifier the license binds to.
func CollectDeviceInfo(ctx context.Context) (string, *models.DeviceInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("collect host info: %w", err)
	}

	deviceInfo := &models.DeviceInfo{
		Platform:  info.OS,
		OSVersion: fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion),
		Model:     info.Hostname,
		UniqueID:  info.HostID,
	}

	return info.HostID, deviceInfo, nil
}
