package hub

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the hub package
var Module = fx.Module("hub",
	fx.Provide(NewHub),
	fx.Invoke(registerHub),
)

// registerHub ties the outbound dispatcher to the fx lifecycle
func registerHub(lifecycle fx.Lifecycle, h *Hub) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)

				h.Run(runCtx)
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
