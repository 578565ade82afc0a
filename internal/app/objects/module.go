package objects

import (
	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the objects package
var Module = fx.Module("objects",
	fx.Provide(NewRegistry),
	fx.Provide(NewFullWarnings),
)
