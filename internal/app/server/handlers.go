package server

import (
	"context"
	"strings"

	"skyhub/internal/app/clocks"
	"skyhub/internal/app/model"
	"skyhub/internal/config"
)

// uavCommandTypes maps the UAV command message types onto driver command
// tokens
var uavCommandTypes = map[string]string{
	"UAV-TAKEOFF": "takeoff",
	"UAV-LAND":    "land",
	"UAV-FLY":     "fly",
	"UAV-RTH":     "rth",
	"UAV-HALT":    "halt",
	"UAV-HOVER":   "hover",
	"UAV-RST":     "reset",
	"UAV-MOTOR":   "motor",
	"UAV-SIGNAL":  "signal",
	"UAV-SLEEP":   "sleep",
	"UAV-WAKEUP":  "wakeup",
	"UAV-CALIB":   "calibrate",
	"UAV-PARAM":   "param",
	"UAV-VER":     "version",
	"UAV-TEST":    "test",
}

// registerHandlers installs every core message handler on the hub
func (s *Server) registerHandlers() {
	s.hub.RegisterHandler(model.TypeSysPing, s.handlePing)
	s.hub.RegisterHandler(model.TypeSysVer, s.handleVersion)
	s.hub.RegisterHandler(model.TypeSysTime, s.handleTime)
	s.hub.RegisterHandler(model.TypeSysLoad, s.handleLoad)
	s.hub.RegisterHandler(model.TypeSysPorts, s.handlePorts)
	s.hub.RegisterHandler(model.TypeSysMsg, s.handleSysMsg)
	s.hub.RegisterHandler(model.TypeSysClose, s.handleSysClose)
	s.hub.RegisterHandler(model.TypeAuthWhoAmI, s.handleWhoAmI)

	s.hub.RegisterHandler(model.TypeUAVList, s.handleUAVList)
	s.hub.RegisterHandler(model.TypeUAVInf, s.handleUAVInf)
	s.hub.RegisterHandler(model.TypeObjList, s.handleObjList)

	s.hub.RegisterHandler(model.TypeDevList, s.handleDevList)
	s.hub.RegisterHandler(model.TypeDevSub, s.handleDevSub)
	s.hub.RegisterHandler(model.TypeDevUnsub, s.handleDevUnsub)
	s.hub.RegisterHandler(model.TypeDevListSub, s.handleDevListSub)

	s.hub.RegisterHandler(model.TypeConnList, s.handleConnList)
	s.hub.RegisterHandler(model.TypeConnInf, s.handleConnInf)
	s.hub.RegisterHandler(model.TypeConnDel, s.handleConnDel)

	s.hub.RegisterHandler(model.TypeClkList, s.handleClkList)
	s.hub.RegisterHandler(model.TypeClkInf, s.handleClkInf)

	s.hub.RegisterHandler(model.TypeAsyncCancel, s.handleAsyncCancel)
	s.hub.RegisterHandler(model.TypeAsyncResume, s.handleAsyncResume)

	for messageType := range uavCommandTypes {
		s.hub.RegisterHandler(messageType, s.handleUAVCommand)
	}

	s.hub.RegisterHandler("OBJ-CMD", s.handleObjCommand)
}

func (s *Server) handlePing(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	return model.Body{"type": model.TypeAckAck}, true
}

func (s *Server) handleVersion(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	return s.sysinfo.Version(), true
}

func (s *Server) handleTime(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	return s.sysinfo.Time(), true
}

func (s *Server) handleLoad(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	return s.sysinfo.Load(ctx), true
}

func (s *Server) handlePorts(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	return model.Body{
		"type": model.TypeSysPorts,
		"ports": map[string]interface{}{
			"tcp": s.cfg.Server.TCPAddr,
			"ws":  s.cfg.Server.WSAddr,
		},
	}, true
}

// handleSysMsg feeds operator log messages into the SYS-MSG batching
// limiter and acknowledges the request
func (s *Server) handleSysMsg(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	for _, item := range msg.Body.StringSlice("items") {
		_ = s.limits.Request(tagSysMsg, item)
	}

	if item, ok := msg.Body["message"].(string); ok {
		_ = s.limits.Request(tagSysMsg, item)
	}

	return model.Body{"type": model.TypeAckAck}, true
}

// handleSysClose acknowledges and closes the client's channel once the
// acknowledgement left the queue
func (s *Server) handleSysClose(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	_, err := s.hub.SendResponse(ctx, msg, sender, model.Body{"type": model.TypeAckAck}, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod)
		defer cancel()

		_ = sender.Channel().Close(closeCtx)
	})

	if err != nil {
		s.log.Warn().Err(err).Str("client", sender.ID()).Msg("Failed to acknowledge close")
	}

	return nil, true
}

func (s *Server) handleWhoAmI(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	return model.Body{"type": model.TypeAuthWhoAmI, "user": sender.User()}, true
}

func (s *Server) handleUAVList(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	return model.Body{"type": model.TypeUAVList, "ids": s.objects.IDsByType(model.ObjectTypeUAV)}, true
}

// handleUAVInf answers a status request with the current snapshot of every
// requested UAV; unknown ids surface in the error map
func (s *Server) handleUAVInf(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": model.TypeUAVInf}))

	status := make(map[string]interface{})

	for _, id := range msg.Body.StringSlice("ids") {
		uav, ok := s.objects.FindUAV(id)
		if !ok {
			resp.AddError(id, "no such UAV")

			continue
		}

		status[id] = uav.Status()
	}

	if len(status) > 0 {
		resp.Message.Body["status"] = status
	}

	return resp.Message, true
}

func (s *Server) handleObjList(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	filter := msg.Body.StringSlice("filter")

	var ids []string
	if len(filter) == 0 {
		ids = s.objects.IDs()
	} else {
		ids = s.objects.IDsByTypes(filter)
	}

	return model.Body{"type": model.TypeObjList, "ids": ids}, true
}

func (s *Server) handleDevList(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": model.TypeDevList}))

	for _, path := range msg.Body.StringSlice("paths") {
		tree, err := s.tree.JSON(path)
		if err != nil {
			resp.AddError(path, err.Error())

			continue
		}

		resp.AddResult(path, tree)
	}

	return resp.Message, true
}

func (s *Server) handleDevSub(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": model.TypeDevSub}))

	for _, path := range msg.Body.StringSlice("paths") {
		if err := s.tree.Subscribe(sender.ID(), path); err != nil {
			resp.AddError(path, err.Error())

			continue
		}

		resp.AddSuccess(path)
	}

	return resp.Message, true
}

func (s *Server) handleDevUnsub(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": model.TypeDevUnsub}))

	force, _ := msg.Body["force"].(bool)

	if includeSubtrees, _ := msg.Body["includeSubtrees"].(bool); includeSubtrees {
		paths, err := s.tree.UnsubscribeSubtree(sender.ID(), msg.Body.StringSlice("paths"))
		if err != nil {
			return s.hub.Builder().CreateNak(msg, err.Error()), true
		}

		for _, path := range paths {
			resp.AddSuccess(path)
		}

		return resp.Message, true
	}

	for _, path := range msg.Body.StringSlice("paths") {
		if err := s.tree.Unsubscribe(sender.ID(), path, force); err != nil {
			resp.AddError(path, err.Error())

			continue
		}

		resp.AddSuccess(path)
	}

	return resp.Message, true
}

func (s *Server) handleDevListSub(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	subscriptions, err := s.tree.ListSubscriptions(sender.ID(), msg.Body.StringSlice("pathFilter"))
	if err != nil {
		return s.hub.Builder().CreateNak(msg, err.Error()), true
	}

	return model.Body{"type": model.TypeDevListSub, "paths": subscriptions}, true
}

func (s *Server) handleConnList(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	return model.Body{"type": model.TypeConnList, "ids": s.conns.IDs()}, true
}

func (s *Server) handleConnInf(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": model.TypeConnInf}))

	status := make(map[string]interface{})

	for _, id := range msg.Body.StringSlice("ids") {
		entry, ok := s.conns.Find(id)
		if !ok {
			resp.AddError(id, "no such connection")

			continue
		}

		status[id] = entry.Info()
	}

	if len(status) > 0 {
		resp.Message.Body["status"] = status
	}

	return resp.Message, true
}

func (s *Server) handleConnDel(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": model.TypeConnDel}))

	for _, id := range msg.Body.StringSlice("ids") {
		if _, ok := s.conns.Remove(id); !ok {
			resp.AddError(id, "no such connection")

			continue
		}

		resp.AddSuccess(id)
	}

	return resp.Message, true
}

func (s *Server) handleClkList(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	return model.Body{"type": model.TypeClkList, "ids": s.clocks.IDs()}, true
}

func (s *Server) handleClkInf(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": model.TypeClkInf}))

	status := make(map[string]interface{})

	ids := msg.Body.StringSlice("ids")
	if len(ids) == 0 {
		ids = s.clocks.IDs()
	}

	for _, id := range ids {
		clock, err := s.clocks.FindOrError(id)
		if err != nil {
			resp.AddError(id, "no such clock")

			continue
		}

		status[id] = clocks.Info(clock)
	}

	if len(status) > 0 {
		resp.Message.Body["status"] = status
	}

	return resp.Message, true
}

func (s *Server) handleAsyncCancel(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": model.TypeAsyncCancel}))

	for _, id := range msg.Body.StringSlice("ids") {
		if err := s.commands.Cancel(id); err != nil {
			resp.AddError(id, err.Error())

			continue
		}

		resp.AddSuccess(id)
	}

	return resp.Message, true
}

func (s *Server) handleAsyncResume(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": model.TypeAsyncResume}))

	values, _ := msg.Body["values"].(map[string]interface{})

	for _, id := range msg.Body.StringSlice("ids") {
		if err := s.commands.Resume(id, values[id]); err != nil {
			resp.AddError(id, err.Error())

			continue
		}

		resp.AddSuccess(id)
	}

	return resp.Message, true
}

// handleUAVCommand fans a typed UAV command out to the drivers of the
// addressed vehicles
func (s *Server) handleUAVCommand(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	token := uavCommandTypes[msg.Type()]

	return s.dispatchCommand(ctx, msg, sender, token)
}

// handleObjCommand executes an arbitrary command token carried in the body,
// covering parameter access and calibration flows
func (s *Server) handleObjCommand(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
	token, _ := msg.Body["command"].(string)
	if token == "" {
		return s.hub.Builder().CreateNak(msg, "missing command"), true
	}

	return s.dispatchCommand(ctx, msg, sender, strings.ToLower(token))
}

// dispatchCommand resolves the target UAVs, runs the dispatch layer and
// wires terminal notifications behind the response delivery
func (s *Server) dispatchCommand(ctx context.Context, msg *model.Message, sender *model.Client, token string) (interface{}, bool) {
	resp := model.NewResponse(s.hub.Builder().CreateResponseTo(msg, model.Body{"type": msg.Type()}))

	uavs := make([]model.UAV, 0)

	for _, id := range msg.Body.StringSlice("ids") {
		uav, ok := s.objects.FindUAV(id)
		if !ok {
			resp.AddError(id, "no such UAV")

			continue
		}

		uavs = append(uavs, uav)
	}

	s.dispatcher.SendCommand(ctx, uavs, token, msg.Body, sender.ID(), resp)

	receipts := receiptIDs(resp)

	if _, err := s.hub.SendResponse(ctx, msg, sender, resp.Message.Body, func() {
		for _, receiptID := range receipts {
			_ = s.commands.MarkClientsNotified(receiptID)
		}
	}); err != nil {
		s.log.Warn().Err(err).Str("client", sender.ID()).Msg("Failed to send command response")
	}

	return nil, true
}

// receiptIDs extracts the receipt ids recorded in a response body
func receiptIDs(resp *model.Response) []string {
	receipts, ok := resp.Message.Body["receipt"].(map[string]interface{})
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(receipts))

	for _, value := range receipts {
		if id, ok := value.(string); ok {
			ids = append(ids, id)
		}
	}

	return ids
}
