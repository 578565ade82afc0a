package sysinfo

import (
	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the sysinfo package
var Module = fx.Module("sysinfo",
	fx.Provide(NewProvider),
)
