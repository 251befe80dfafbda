package rpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rania-fds/fds/internal/domain"
	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/monitoring"
)

// Controller runs commands and reports rooms. *domain.Set implements it.
type Controller interface {
	Dispatch(ctx context.Context, cmd events.Command) (events.Reply, error)
	Rooms() []domain.RoomStatus
}

// Server implements ControlServer over a Controller and an event hub.
type Server struct {
	ctrl Controller
	hub  *events.Hub
	log  *monitoring.Logger
}

var _ ControlServer = (*Server)(nil)

// NewServer returns a server. hub may be nil, in which case Events fails
// with Unavailable.
func NewServer(ctrl Controller, hub *events.Hub, log *monitoring.Logger) *Server {
	if log == nil {
		log = monitoring.Discard()
	}
	return &Server{ctrl: ctrl, hub: hub, log: log.With("gRPC")}
}

// Command decodes an events.Command and runs it. Command failures are
// reported in the reply; only malformed requests fail the call.
func (s *Server) Command(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var cmd events.Command
	if err := fromStruct(in, &cmd); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad command: %v", err)
	}
	if cmd.Type == "" {
		return nil, status.Error(codes.InvalidArgument, "command type is required")
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	reply, _ := s.ctrl.Dispatch(ctx, cmd)
	return toStruct(reply)
}

// Rooms returns {"rooms": [...]}.
func (s *Server) Rooms(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(struct {
		Rooms []domain.RoomStatus `json:"rooms"`
	}{s.ctrl.Rooms()})
}

// eventFilter is the Events request: {"types": [...], "dom_id": n}. Empty
// fields match everything.
type eventFilter struct {
	Types    []events.Type `json:"types"`
	DomainID *int          `json:"dom_id"`
}

func (f eventFilter) match(ev events.Event) bool {
	if f.DomainID != nil && *f.DomainID != ev.DomainID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// Events streams events from the hub until the client goes away.
func (s *Server) Events(in *structpb.Struct, stream grpc.ServerStream) error {
	if s.hub == nil {
		return status.Error(codes.Unavailable, "event stream not configured")
	}
	var filter eventFilter
	if err := fromStruct(in, &filter); err != nil {
		return status.Errorf(codes.InvalidArgument, "bad filter: %v", err)
	}

	ch, cancel := s.hub.Subscribe()
	defer cancel()
	s.log.Infof("event stream opened")

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("event stream closed")
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if !filter.match(ev) {
				continue
			}
			msg, err := toStruct(ev)
			if err != nil {
				return status.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				s.log.Warnf("send error: %v", err)
				return err
			}
		}
	}
}

// UnaryLogger logs every unary call at debug level and failures at warn.
func UnaryLogger(log *monitoring.Logger) grpc.UnaryServerInterceptor {
	log = log.With("gRPC")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			log.Warnf("%s failed after %s: %v", info.FullMethod, time.Since(start), err)
		} else {
			log.Debugf("%s ok in %s", info.FullMethod, time.Since(start))
		}
		return resp, err
	}
}

// NewGRPCServer builds a grpc.Server with srv registered.
func NewGRPCServer(srv ControlServer, log *monitoring.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = monitoring.Discard()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryLogger(log)))
	s := grpc.NewServer(opts...)
	Register(s, srv)
	return s
}
