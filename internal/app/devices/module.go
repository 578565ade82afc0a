package devices

import (
	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the devices package
var Module = fx.Module("devices",
	fx.Provide(NewTree),
)
