package dispatch

import (
	"context"
	"sort"

	"skyhub/internal/app/commands"
	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/config/logger"
)

// Reasons attached to targets whose driver cannot serve a command
const (
	reasonNotSupported = "Operation not supported"
)

// Dispatcher fans multi-target commands out to the drivers responsible for
// each target and folds the per-target outcomes into the response maps.
// Deferred outcomes convert to receipts through the command manager.
type Dispatcher struct {
	manager *commands.Manager
	log     logger.Logger
}

// NewDispatcher creates a dispatcher over the given command manager
func NewDispatcher(manager *commands.Manager, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		manager: manager,
		log:     log.WithComponent("DISPATCH"),
	}
}

// SendCommand executes the command token on every target UAV and records
// per-target outcomes into the response. clientID names the client awaiting
// terminal notifications for deferred outcomes.
func (d *Dispatcher) SendCommand(ctx context.Context, uavs []model.UAV, token string, body model.Body, clientID string, resp *model.Response) {
	for _, group := range groupByDriver(uavs) {
		d.dispatchGroup(ctx, group, token, body, clientID, resp)
	}
}

type driverGroup struct {
	driver model.Driver
	uavs   []model.UAV
}

// groupByDriver splits the targets into per-driver groups with a stable
// order
func groupByDriver(uavs []model.UAV) []driverGroup {
	byID := make(map[string]*driverGroup)
	order := make([]string, 0)

	for _, uav := range uavs {
		driver := uav.Driver()
		if driver == nil {
			continue
		}

		group, ok := byID[driver.ID()]
		if !ok {
			group = &driverGroup{driver: driver}
			byID[driver.ID()] = group
			order = append(order, driver.ID())
		}

		group.uavs = append(group.uavs, uav)
	}

	sort.Strings(order)

	groups := make([]driverGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byID[id])
	}

	return groups
}

// dispatchGroup resolves the handler for one driver group and applies the
// outcomes. Lookup order: multi(token), single(token), generic multi,
// generic; the first found wins.
func (d *Dispatcher) dispatchGroup(ctx context.Context, group driverGroup, token string, body model.Body, clientID string, resp *model.Response) {
	cmds := group.driver.Commands()
	if cmds == nil {
		d.markAll(group.uavs, reasonNotSupported, resp)

		return
	}

	if handler, ok := cmds.Multi(token); ok {
		d.runMulti(ctx, handler, group.uavs, body, clientID, resp)

		return
	}

	if handler, ok := cmds.Single(token); ok {
		d.runSingle(ctx, handler, group.uavs, body, clientID, resp)

		return
	}

	if handler, ok := cmds.GenericMulti(); ok {
		d.runMulti(ctx, handler, group.uavs, body, clientID, resp)

		return
	}

	if handler, ok := cmds.Generic(); ok {
		d.runSingle(ctx, handler, group.uavs, body, clientID, resp)

		return
	}

	d.markAll(group.uavs, reasonNotSupported, resp)
}

// runMulti invokes a group handler once; a map result assigns per-target
// outcomes, anything else is broadcast to the whole group
func (d *Dispatcher) runMulti(ctx context.Context, handler model.MultiCommandHandler, uavs []model.UAV, body model.Body, clientID string, resp *model.Response) {
	result, err := d.invokeMulti(ctx, handler, uavs, body)
	if err != nil {
		d.markAll(uavs, err.Error(), resp)

		return
	}

	if outcomes, ok := result.(map[string]interface{}); ok {
		for _, uav := range uavs {
			outcome, ok := outcomes[uav.ID()]
			if !ok {
				resp.AddError(uav.ID(), reasonNotSupported)

				continue
			}

			d.applyOutcome(uav.ID(), outcome, clientID, resp)
		}

		return
	}

	for _, uav := range uavs {
		d.applyOutcome(uav.ID(), result, clientID, resp)
	}
}

// runSingle invokes the handler once per target
func (d *Dispatcher) runSingle(ctx context.Context, handler model.CommandHandler, uavs []model.UAV, body model.Body, clientID string, resp *model.Response) {
	for _, uav := range uavs {
		outcome, err := d.invokeSingle(ctx, handler, uav, body)
		if err != nil {
			resp.AddError(uav.ID(), err.Error())

			continue
		}

		d.applyOutcome(uav.ID(), outcome, clientID, resp)
	}
}

func (d *Dispatcher) invokeMulti(ctx context.Context, handler model.MultiCommandHandler, uavs []model.UAV, body model.Body) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Msgf("Driver multi handler panicked: %v", r)
			result, err = nil, errors.ErrNotImplemented
		}
	}()

	return handler(ctx, uavs, body)
}

func (d *Dispatcher) invokeSingle(ctx context.Context, handler model.CommandHandler, uav model.UAV, body model.Body) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("uav", uav.ID()).Msgf("Driver handler panicked: %v", r)
			result, err = nil, errors.ErrNotImplemented
		}
	}()

	return handler(ctx, uav, body)
}

// applyOutcome folds one target outcome into the response: futures become
// receipts, errors become per-target failures, nil becomes a plain success
func (d *Dispatcher) applyOutcome(uavID string, outcome interface{}, clientID string, resp *model.Response) {
	switch typed := outcome.(type) {
	case nil:
		resp.AddSuccess(uavID)
	case error:
		resp.AddError(uavID, typed.Error())
	case model.Future:
		receipt, err := d.manager.New(typed, clientID)
		if err != nil {
			resp.AddError(uavID, err.Error())

			return
		}

		resp.AddReceipt(uavID, receipt.ID())
	default:
		resp.AddResult(uavID, outcome)
	}
}

func (d *Dispatcher) markAll(uavs []model.UAV, reason string, resp *model.Response) {
	for _, uav := range uavs {
		resp.AddError(uav.ID(), reason)
	}
}

// WantsBroadcast reports whether the transport options of a command request
// ask for a broadcast send on the driver side
func WantsBroadcast(body model.Body) bool {
	transport, ok := body["transport"].(map[string]interface{})
	if !ok {
		return false
	}

	broadcast, _ := transport["broadcast"].(bool)

	return broadcast
}
