package transport

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the fx dependency injection options for the transport package
var Module = fx.Module("transport",
	fx.Provide(NewTCPServer),
	fx.Provide(NewWSServer),
	fx.Invoke(registerServers),
)

// registerServers ties both transport servers to the fx lifecycle
func registerServers(lifecycle fx.Lifecycle, tcp *TCPServer, ws *WSServer) {
	runCtx, cancel := context.WithCancel(context.Background())

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := tcp.Start(runCtx); err != nil {
				return err
			}

			return ws.Start(runCtx)
		},
		OnStop: func(ctx context.Context) error {
			cancel()

			if err := ws.Stop(); err != nil {
				return err
			}

			return tcp.Stop()
		},
	})
}
