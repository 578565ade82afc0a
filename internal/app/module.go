package app

import (
	"go.uber.org/fx"

	"skyhub/internal/app/channels"
	"skyhub/internal/app/clients"
	"skyhub/internal/app/clocks"
	"skyhub/internal/app/commands"
	"skyhub/internal/app/conns"
	"skyhub/internal/app/devices"
	"skyhub/internal/app/dispatch"
	"skyhub/internal/app/hub"
	"skyhub/internal/app/objects"
	"skyhub/internal/app/ratelimit"
	"skyhub/internal/app/server"
	"skyhub/internal/app/sysinfo"
	"skyhub/internal/app/transport"
	"skyhub/internal/app/watcher"
)

// Module provides the fx dependency injection options for the app package
var Module = fx.Options(
	channels.Module,
	clients.Module,
	clocks.Module,
	commands.Module,
	conns.Module,
	devices.Module,
	dispatch.Module,
	hub.Module,
	objects.Module,
	ratelimit.Module,
	server.Module,
	sysinfo.Module,
	transport.Module,
	watcher.Module,
)
