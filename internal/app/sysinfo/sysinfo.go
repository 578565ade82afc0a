package sysinfo

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"skyhub/internal/app/model"
	"skyhub/internal/config"
)

// Provider assembles the bodies of the SYS-* information responses
type Provider interface {
	Version() model.Body
	Time() model.Body
	Load(ctx context.Context) model.Body
}

// provider implements the Provider interface over gopsutil
type provider struct{}

// NewProvider creates a system information provider
func NewProvider() Provider {
	return &provider{}
}

// Version returns the SYS-VER response body
func (p *provider) Version() model.Body {
	return model.Body{
		"type":     model.TypeSysVer,
		"name":     config.ServerName,
		"software": config.ServerName,
		"version":  config.Version,
	}
}

// Time returns the SYS-TIME response body with the epoch time in
// milliseconds
func (p *provider) Time() model.Body {
	return model.Body{
		"type":      model.TypeSysTime,
		"timestamp": time.Now().UnixMilli(),
	}
}

// Load returns the SYS-LOAD response body with host CPU and memory usage.
// Metrics that cannot be collected are simply left out.
func (p *provider) Load(ctx context.Context) model.Body {
	body := model.Body{"type": model.TypeSysLoad}

	if percentages, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percentages) > 0 {
		body["cpu"] = percentages[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		body["memory"] = model.Body{
			"total":       vm.Total,
			"used":        vm.Used,
			"usedPercent": vm.UsedPercent,
		}
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		body["uptime"] = uptime
	}

	return body
}
