package commands

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the commands package
var Module = fx.Module("commands",
	fx.Provide(NewManager),
	fx.Invoke(registerManager),
)

// registerManager ties the manager run loop to the fx lifecycle
func registerManager(lifecycle fx.Lifecycle, manager *Manager) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)

				manager.Run(runCtx)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()

			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
