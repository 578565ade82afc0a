package clocks

import (
	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the clocks package
var Module = fx.Module("clocks",
	fx.Provide(NewRegistry),
)
