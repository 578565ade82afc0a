package watcher

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the watcher package
var Module = fx.Module("watcher",
	fx.Provide(NewWatcher),
	fx.Invoke(registerWatcher),
)

// registerWatcher ties the watcher to the fx lifecycle
func registerWatcher(lifecycle fx.Lifecycle, w Watcher) {
	runCtx, cancel := context.WithCancel(context.Background())

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return w.Start(runCtx)
		},
		OnStop: func(ctx context.Context) error {
			cancel()

			return w.Close()
		},
	})
}
