package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyhub/internal/app/channels"
	"skyhub/internal/app/clients"
	"skyhub/internal/app/clocks"
	"skyhub/internal/app/commands"
	"skyhub/internal/app/conns"
	"skyhub/internal/app/devices"
	"skyhub/internal/app/dispatch"
	"skyhub/internal/app/hub"
	"skyhub/internal/app/model"
	"skyhub/internal/app/objects"
	"skyhub/internal/app/ratelimit"
	"skyhub/internal/app/sysinfo"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

type recordingChannel struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (c *recordingChannel) Send(ctx context.Context, msg *model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.msgs = append(c.msgs, msg)

	return nil
}

func (c *recordingChannel) Close(ctx context.Context) error { return nil }

func (c *recordingChannel) snapshot() []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]*model.Message, len(c.msgs))
	copy(msgs, c.msgs)

	return msgs
}

func (c *recordingChannel) firstOfType(messageType string) *model.Message {
	for _, msg := range c.snapshot() {
		if msg.Type() == messageType {
			return msg
		}
	}

	return nil
}

func (c *recordingChannel) countOfType(messageType string) int {
	count := 0

	for _, msg := range c.snapshot() {
		if msg.Type() == messageType {
			count++
		}
	}

	return count
}

type fixture struct {
	server  *Server
	hub     *hub.Hub
	clients *clients.Registry
	objects *objects.Registry
	tree    *devices.Tree
	conns   *conns.Registry
	manager *commands.Manager
	cfg     *config.Config
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, nil)
}

func newFixtureWithConfig(t *testing.T, tweak func(cfg *config.Config)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Commands.Timeout = time.Second
	cfg.Commands.CleanupPeriod = 100 * time.Millisecond
	cfg.RateLimits.BatchDelay = 30 * time.Millisecond
	cfg.RateLimits.SettleDelay = 50 * time.Millisecond
	cfg.RateLimits.StableStateAge = 100 * time.Millisecond

	if tweak != nil {
		tweak(cfg)
	}

	log := &logger.NoopLogger{}

	types := channels.NewRegistry()
	require.NoError(t, types.Add(model.ChannelTypeDescriptor{
		ID:      "test",
		Factory: func() model.CommunicationChannel { return &recordingChannel{} },
	}))

	clientRegistry := clients.NewRegistry(types)
	h := hub.NewHub(cfg, clientRegistry, types, log)
	objectRegistry := objects.NewRegistry(cfg)
	tree := devices.NewTree()
	connRegistry := conns.NewRegistry()
	manager := commands.NewManager(cfg, log)
	limits := ratelimit.NewRegistry()
	dispatcher := dispatch.NewDispatcher(manager, log)
	clockRegistry := clocks.NewRegistry()

	s := NewServer(Params{
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
		SysInfo:    sysinfo.NewProvider(),
		Log:        log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	go h.Run(ctx)
	go manager.Run(ctx)
	go s.RunLimiters(ctx)

	t.Cleanup(func() {
		s.Stop()
		cancel()
	})

	return &fixture{
		server:  s,
		hub:     h,
		clients: clientRegistry,
		objects: objectRegistry,
		tree:    tree,
		conns:   connRegistry,
		manager: manager,
		cfg:     cfg,
	}
}

func (f *fixture) addClient(t *testing.T, id string) (*model.Client, *recordingChannel) {
	t.Helper()

	client, err := f.clients.Add(id, "test")
	require.NoError(t, err)

	return client, client.Channel().(*recordingChannel)
}

func (f *fixture) incoming(t *testing.T, client *model.Client, body model.Body) *model.Message {
	t.Helper()

	msg := f.hub.Builder().CreateMessage(body)

	raw, err := msg.Encode()
	require.NoError(t, err)

	f.hub.HandleIncoming(context.Background(), raw, client)

	return msg
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met in time")
}

type testUAV struct {
	id     string
	driver model.Driver
	mu     sync.Mutex
	status model.UAVStatusInfo
}

func (u *testUAV) ID() string           { return u.id }
func (u *testUAV) TypeTag() string      { return model.ObjectTypeUAV }
func (u *testUAV) Driver() model.Driver { return u.driver }

func (u *testUAV) Status() model.UAVStatusInfo {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.status
}

func (u *testUAV) setPosition(lat, lon, amsl, agl float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.status = model.UAVStatusInfo{
		ID:          u.id,
		TimestampMs: time.Now().UnixMilli(),
		Position:    model.Position{Lat: lat, Lon: lon, AMSL: amsl, AGL: agl},
	}
}

type testDriver struct {
	id       string
	commands *model.CommandMap
}

func (d *testDriver) ID() string                  { return d.id }
func (d *testDriver) Commands() *model.CommandMap { return d.commands }

func Test_Server_UAVInfBroadcast_Coalesced(t *testing.T) {
	f := newFixture(t)
	_, channel := f.addClient(t, "c1")

	uav := &testUAV{id: "DRN-01"}
	require.NoError(t, f.objects.Add(uav))

	uav.setPosition(47.5, 19.0, 50, 5)

	// a burst of updates within the batch window
	f.server.NotifyUAVUpdated("DRN-01")
	f.server.NotifyUAVUpdated("DRN-01")
	f.server.NotifyUAVUpdated("DRN-01")

	waitUntil(t, time.Second, func() bool {
		return channel.countOfType(model.TypeUAVInf) >= 1
	})

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, channel.countOfType(model.TypeUAVInf), "burst coalesces into one UAV-INF")

	msg := channel.firstOfType(model.TypeUAVInf)
	status := msg.Body["status"].(map[string]interface{})
	info := status["DRN-01"].(model.UAVStatusInfo)
	assert.Equal(t, 47.5, info.Position.Lat)
}

func Test_Server_CommandReceiptFlow(t *testing.T) {
	f := newFixture(t)
	client, channel := f.addClient(t, "c1")

	driver := &testDriver{id: "virtual", commands: model.NewCommandMap().Register("takeoff",
		func(ctx context.Context, uav model.UAV, body model.Body) (interface{}, error) {
			return model.Future(func(ctx context.Context, cc model.CommandContext) (interface{}, error) {
				time.Sleep(50 * time.Millisecond)

				return "ok", nil
			}), nil
		})}

	require.NoError(t, f.objects.Add(&testUAV{id: "DRN-01", driver: driver}))

	f.incoming(t, client, model.Body{"type": "UAV-TAKEOFF", "ids": []string{"DRN-01"}})

	// response with receipt id arrives first
	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType("UAV-TAKEOFF") != nil
	})

	resp := channel.firstOfType("UAV-TAKEOFF")
	receipts := resp.Body["receipt"].(map[string]interface{})
	receiptID := receipts["DRN-01"].(string)
	require.NotEmpty(t, receiptID)

	// the terminal ASYNC-RESP follows with the same receipt id
	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType(model.TypeAsyncResp) != nil
	})

	terminal := channel.firstOfType(model.TypeAsyncResp)
	assert.Equal(t, receiptID, terminal.Body["id"])
	assert.Equal(t, "ok", terminal.Body["result"])

	// ordering: the response was recorded before the terminal notification
	msgs := channel.snapshot()

	respIndex, terminalIndex := -1, -1
	for i, msg := range msgs {
		switch {
		case msg.Type() == "UAV-TAKEOFF" && respIndex < 0:
			respIndex = i
		case msg.Type() == model.TypeAsyncResp && terminalIndex < 0:
			terminalIndex = i
		}
	}

	assert.Less(t, respIndex, terminalIndex)
}

func Test_Server_CommandTimeout(t *testing.T) {
	f := newFixtureWithConfig(t, func(cfg *config.Config) {
		cfg.Commands.Timeout = 100 * time.Millisecond
	})
	client, channel := f.addClient(t, "c1")

	driver := &testDriver{id: "virtual", commands: model.NewCommandMap().Register("takeoff",
		func(ctx context.Context, uav model.UAV, body model.Body) (interface{}, error) {
			return model.Future(func(ctx context.Context, cc model.CommandContext) (interface{}, error) {
				select {
				case <-time.After(time.Minute):
					return "late", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}), nil
		})}

	require.NoError(t, f.objects.Add(&testUAV{id: "DRN-01", driver: driver}))

	f.incoming(t, client, model.Body{"type": "UAV-TAKEOFF", "ids": []string{"DRN-01"}})

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType("UAV-TAKEOFF") != nil
	})

	resp := channel.firstOfType("UAV-TAKEOFF")
	receiptID := resp.Body["receipt"].(map[string]interface{})["DRN-01"].(string)

	waitUntil(t, 3*time.Second, func() bool {
		return channel.firstOfType(model.TypeAsyncTimeout) != nil
	})

	timeoutMsg := channel.firstOfType(model.TypeAsyncTimeout)
	ids := timeoutMsg.Body["ids"].([]string)
	assert.Contains(t, ids, receiptID)
	assert.Zero(t, channel.countOfType(model.TypeAsyncResp), "no terminal result after timeout")
}

func Test_Server_AsyncCancel(t *testing.T) {
	f := newFixture(t)
	client, channel := f.addClient(t, "c1")

	driver := &testDriver{id: "virtual", commands: model.NewCommandMap().Register("takeoff",
		func(ctx context.Context, uav model.UAV, body model.Body) (interface{}, error) {
			return model.Future(func(ctx context.Context, cc model.CommandContext) (interface{}, error) {
				<-ctx.Done()

				return nil, ctx.Err()
			}), nil
		})}

	require.NoError(t, f.objects.Add(&testUAV{id: "DRN-01", driver: driver}))

	f.incoming(t, client, model.Body{"type": "UAV-TAKEOFF", "ids": []string{"DRN-01"}})

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType("UAV-TAKEOFF") != nil
	})

	receiptID := channel.firstOfType("UAV-TAKEOFF").Body["receipt"].(map[string]interface{})["DRN-01"].(string)

	f.incoming(t, client, model.Body{"type": model.TypeAsyncCancel, "ids": []string{receiptID}})

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType(model.TypeAsyncCancel) != nil
	})

	cancelResp := channel.firstOfType(model.TypeAsyncCancel)
	assert.Equal(t, []string{receiptID}, cancelResp.Body["success"])

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType(model.TypeAsyncResp) != nil
	})

	terminal := channel.firstOfType(model.TypeAsyncResp)
	assert.Equal(t, true, terminal.Body["cancelled"])

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, channel.countOfType(model.TypeAsyncResp), "terminal notice is not re-emitted")
}

func Test_Server_DevSubAndMutation(t *testing.T) {
	f := newFixture(t)
	client, channel := f.addClient(t, "c1")

	object, err := f.tree.AddObject("DRN-01")
	require.NoError(t, err)

	battery := object.AddDevice("battery")
	battery.AddChannel("voltage", devices.ChannelNumber, "V")

	require.NoError(t, f.tree.Mutate(func(m *devices.Mutator) error {
		return m.Update("/DRN-01/battery/voltage", 12.4)
	}))

	f.incoming(t, client, model.Body{"type": model.TypeDevSub, "paths": []string{"/DRN-01/battery"}})

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType(model.TypeDevSub) != nil
	})

	assert.Equal(t, []string{"/DRN-01/battery"}, channel.firstOfType(model.TypeDevSub).Body["success"])

	require.NoError(t, f.tree.Mutate(func(m *devices.Mutator) error {
		return m.Update("/DRN-01/battery/voltage", 12.3)
	}))

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType(model.TypeDevInf) != nil
	})

	devInf := channel.firstOfType(model.TypeDevInf)
	values := devInf.Body["values"].(map[string]interface{})
	snapshot := values["/DRN-01/battery"].(map[string]interface{})
	assert.Equal(t, 12.3, snapshot["voltage"])

	// same value again: no further DEV-INF
	require.NoError(t, f.tree.Mutate(func(m *devices.Mutator) error {
		return m.Update("/DRN-01/battery/voltage", 12.3)
	}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, channel.countOfType(model.TypeDevInf))
}

func Test_Server_ClientDisconnect_CleansUp(t *testing.T) {
	f := newFixture(t)
	client, _ := f.addClient(t, "c1")

	object, err := f.tree.AddObject("DRN-01")
	require.NoError(t, err)
	object.AddDevice("battery").AddChannel("voltage", devices.ChannelNumber, "V")

	require.NoError(t, f.tree.Subscribe(client.ID(), "/DRN-01/battery"))

	f.clients.Remove(client.ID())

	assert.Equal(t, 0, f.tree.CountSubscriptions("c1", "/DRN-01/battery"))
}

func Test_Server_ConnInf_OnSupervisedConnect(t *testing.T) {
	f := newFixture(t)
	_, channel := f.addClient(t, "c1")

	supervisor := conns.NewSupervisor(f.cfg, f.conns, &logger.NoopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go supervisor.Run(ctx)

	entry, err := f.conns.Add("xbee", "uavRadioLink", "XBee radio", &stubConnection{})
	require.NoError(t, err)

	waitUntil(t, 2*time.Second, func() bool {
		return entry.State() == model.ConnStateConnected
	})

	// the settled CONNECTED state surfaces as a CONN-INF
	waitUntil(t, 2*time.Second, func() bool {
		return channel.countOfType(model.TypeConnInf) >= 1
	})

	msg := channel.firstOfType(model.TypeConnInf)
	status := msg.Body["status"].(map[string]interface{})
	info := status["xbee"].(model.Body)
	assert.Equal(t, model.ConnStateConnected, info["status"])
}

// stubConnection satisfies model.Connection for registry-only tests
type stubConnection struct{}

func (c *stubConnection) Open(ctx context.Context) error { return nil }

func (c *stubConnection) Run(ctx context.Context) error {
	<-ctx.Done()

	return ctx.Err()
}

func (c *stubConnection) Close(ctx context.Context) error { return nil }

func Test_Server_SysHandlers(t *testing.T) {
	f := newFixture(t)
	client, channel := f.addClient(t, "c1")

	f.incoming(t, client, model.Body{"type": model.TypeSysPing})

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType(model.TypeAckAck) != nil
	})

	f.incoming(t, client, model.Body{"type": model.TypeSysVer})

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType(model.TypeSysVer) != nil
	})

	version := channel.firstOfType(model.TypeSysVer)
	assert.Equal(t, config.ServerName, version.Body["name"])

	f.incoming(t, client, model.Body{"type": model.TypeUAVList})

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType(model.TypeUAVList) != nil
	})
}

func Test_Server_ObjList_WithFilter(t *testing.T) {
	f := newFixture(t)
	client, channel := f.addClient(t, "c1")

	require.NoError(t, f.objects.Add(&testUAV{id: "DRN-01"}))

	f.incoming(t, client, model.Body{"type": model.TypeObjList, "filter": []string{model.ObjectTypeUAV}})

	waitUntil(t, time.Second, func() bool {
		return channel.firstOfType(model.TypeObjList) != nil
	})

	assert.Equal(t, []string{"DRN-01"}, channel.firstOfType(model.TypeObjList).Body["ids"])
}
