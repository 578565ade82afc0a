package clients

import (
	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the clients package
var Module = fx.Module("clients",
	fx.Provide(NewRegistry),
)
