package ratelimit

import (
	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the ratelimit package
var Module = fx.Module("ratelimit",
	fx.Provide(NewRegistry),
)
