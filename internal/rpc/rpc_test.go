package rpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rania-fds/fds/internal/domain"
	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/room"
)

type fakeController struct {
	mu   sync.Mutex
	cmds []events.Command
}

func (f *fakeController) Dispatch(_ context.Context, cmd events.Command) (events.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	if cmd.DomainID != 0 {
		err := errors.New("unknown domain")
		return events.ReplyTo(cmd, err), err
	}
	return events.ReplyTo(cmd, nil), nil
}

func (f *fakeController) Rooms() []domain.RoomStatus {
	return []domain.RoomStatus{
		{Domain: 0, Stats: room.Stats{ID: 1, State: room.StateHigh, Active: room.StateHigh, Sensors: []int{3}, Cycles: 12, Falls: 1}},
		{Domain: 0, Stats: room.Stats{ID: 2, State: room.StatePaused, Active: room.StateLow, Sensors: []int{4}}},
	}
}

func setup(t *testing.T, hub *events.Hub) (*Client, *fakeController) {
	t.Helper()
	ctrl := &fakeController{}
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(NewServer(ctrl, hub, nil), nil)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, ctrl
}

func TestCommand(t *testing.T) {
	c, ctrl := setup(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := c.Pause(ctx, 0, 2)
	require.NoError(t, err)
	assert.True(t, reply.OK)

	reply, err = c.Resume(ctx, 5, 2)
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Equal(t, "unknown domain", reply.Error)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	require.Len(t, ctrl.cmds, 2)
	assert.Equal(t, events.CommandPause, ctrl.cmds[0].Type)
	id, err := ctrl.cmds[0].RoomID()
	require.NoError(t, err)
	assert.Equal(t, 2, id)
	assert.Equal(t, reply.ID, ctrl.cmds[1].ID)
}

func TestCommand_RequiresType(t *testing.T) {
	c, _ := setup(t, nil)
	_, err := c.Command(context.Background(), events.Command{DomainID: 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCommand_AssignsID(t *testing.T) {
	c, ctrl := setup(t, nil)
	_, err := c.Command(context.Background(), events.Command{Type: events.CommandPause})
	require.NoError(t, err)
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	assert.NotEmpty(t, ctrl.cmds[0].ID)
}

func TestRooms(t *testing.T) {
	c, ctrl := setup(t, nil)
	got, err := c.Rooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ctrl.Rooms(), got)
}

func TestEvents(t *testing.T) {
	hub := events.NewHub(8)
	c, _ := setup(t, hub)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Events(ctx, events.TypeFallStart)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 5*time.Second, time.Millisecond)

	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	hub.Publish(ctx, events.NewState(0, 1, "LOW", "HIGH", at))
	fall := events.NewFall(0, 1, at)
	hub.Publish(ctx, fall)

	got, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, fall, got, "state events are filtered out")

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 5*time.Second, time.Millisecond)
}

func TestEvents_NoHub(t *testing.T) {
	c, _ := setup(t, nil)
	stream, err := c.Events(context.Background())
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestEventFilter(t *testing.T) {
	dom := 2
	ev := events.NewFall(2, 1, time.Now())
	assert.True(t, eventFilter{}.match(ev))
	assert.True(t, eventFilter{DomainID: &dom}.match(ev))
	assert.False(t, eventFilter{Types: []events.Type{events.TypeState}}.match(ev))
	other := 3
	assert.False(t, eventFilter{DomainID: &other}.match(ev))
}

func TestStructRoundTrip(t *testing.T) {
	_, err := toStruct([]int{1, 2})
	assert.Error(t, err, "arrays are not objects")

	s, err := structpb.NewStruct(map[string]any{"id": "a", "ok": true})
	require.NoError(t, err)
	var r events.Reply
	require.NoError(t, fromStruct(s, &r))
	assert.Equal(t, events.Reply{ID: "a", OK: true}, r)
}
