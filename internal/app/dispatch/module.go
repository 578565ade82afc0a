package dispatch

import (
	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the dispatch package
var Module = fx.Module("dispatch",
	fx.Provide(NewDispatcher),
)
