package channels

import (
	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the channels package
var Module = fx.Module("channels",
	fx.Provide(NewRegistry),
)
