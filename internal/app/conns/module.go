package conns

import (
	"context"

	"go.uber.org/fx"

	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// Module provides the fx dependency injection options for the conns package
var Module = fx.Module("conns",
	fx.Provide(NewRegistry),
	fx.Provide(func(cfg *config.Config, reg *Registry, log logger.Logger) *Supervisor {
		return NewSupervisor(cfg, reg, log)
	}),
	fx.Invoke(registerSupervisor),
)

// registerSupervisor ties the supervisor run loop to the fx lifecycle
func registerSupervisor(lifecycle fx.Lifecycle, supervisor *Supervisor) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)

				supervisor.Run(runCtx)
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
