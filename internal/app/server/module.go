package server

import (
	"context"

	"go.uber.org/fx"

	"skyhub/internal/app/clients"
	"skyhub/internal/app/clocks"
	"skyhub/internal/app/commands"
	"skyhub/internal/app/conns"
	"skyhub/internal/app/devices"
	"skyhub/internal/app/dispatch"
	"skyhub/internal/app/hub"
	"skyhub/internal/app/objects"
	"skyhub/internal/app/ratelimit"
	"skyhub/internal/app/sysinfo"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// Module provides the fx dependency injection options for the server package
var Module = fx.Module("server",
	fx.Provide(newServer),
	fx.Invoke(registerServer),
)

func newServer(
	cfg *config.Config,
	h *hub.Hub,
	clientRegistry *clients.Registry,
	objectRegistry *objects.Registry,
	tree *devices.Tree,
	connRegistry *conns.Registry,
	manager *commands.Manager,
	limits *ratelimit.Registry,
	dispatcher *dispatch.Dispatcher,
	clockRegistry *clocks.Registry,
	provider sysinfo.Provider,
	log logger.Logger,
) *Server {
	return NewServer(Params{
		Cfg:        cfg,
		Hub:        h,
		Clients:    clientRegistry,
		Objects:    objectRegistry,
		Tree:       tree,
		Conns:      connRegistry,
		Commands:   manager,
		Limits:     limits,
		Dispatcher: dispatcher,
		Clocks:     clockRegistry,
		SysInfo:    provider,
		Log:        log,
	})
}

// registerServer ties the server and its rate limiters to the fx lifecycle
func registerServer(lifecycle fx.Lifecycle, s *Server) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Start(ctx); err != nil {
				return err
			}

			go func() {
				defer close(done)

				s.RunLimiters(runCtx)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			s.Stop()

			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
