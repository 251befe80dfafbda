package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rania-fds/fds/internal/domain"
	"github.com/rania-fds/fds/internal/events"
)

// Client calls fds.v1.Control.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target without transport security; the control port
// is expected to be reachable only on the local network.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Command runs cmd on the server.
func (c *Client) Command(ctx context.Context, cmd events.Command) (events.Reply, error) {
	in, err := toStruct(cmd)
	if err != nil {
		return events.Reply{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodCommand, in, out); err != nil {
		return events.Reply{}, err
	}
	var reply events.Reply
	err = fromStruct(out, &reply)
	return reply, err
}

// Pause pauses a room.
func (c *Client) Pause(ctx context.Context, domainID, roomID int) (events.Reply, error) {
	return c.Command(ctx, events.NewRoomCommand(domainID, events.CommandPause, roomID))
}

// Resume resumes a room.
func (c *Client) Resume(ctx context.Context, domainID, roomID int) (events.Reply, error) {
	return c.Command(ctx, events.NewRoomCommand(domainID, events.CommandResume, roomID))
}

// Rooms lists the rooms of every domain on the server.
func (c *Client) Rooms(ctx context.Context) ([]domain.RoomStatus, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodRooms, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var resp struct {
		Rooms []domain.RoomStatus `json:"rooms"`
	}
	err := fromStruct(out, &resp)
	return resp.Rooms, err
}

// EventStream receives events from an Events call.
type EventStream struct {
	stream grpc.ClientStream
}

// Events opens an event stream. With no types every event is delivered.
func (c *Client) Events(ctx context.Context, types ...events.Type) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], methodEvents)
	if err != nil {
		return nil, err
	}
	req, err := toStruct(eventFilter{Types: types})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (events.Event, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return events.Event{}, err
	}
	var ev events.Event
	err := fromStruct(out, &ev)
	return ev, err
}
