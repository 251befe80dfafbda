// Command fdsctl controls a running fds daemon over gRPC.
//
//	fdsctl [-addr host:port] [-dom n] pause <room>
//	fdsctl [-addr host:port] [-dom n] resume <room>
//	fdsctl [-addr host:port] rooms
//	fdsctl [-addr host:port] watch [type...]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rania-fds/fds/internal/events"
	"github.com/rania-fds/fds/internal/rpc"
)

var (
	addr    = flag.String("addr", "localhost:50051", "Address of the fds gRPC control port")
	dom     = flag.Int("dom", 0, "Domain of the room for pause and resume")
	timeout = flag.Duration("timeout", 5*time.Second, "Timeout for pause, resume and rooms")
)

var errUsage = errors.New("usage: fdsctl [flags] pause|resume <room> | rooms | watch [type...]")

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := rpc.Dial(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	if err := run(ctx, c, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, c *rpc.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "pause", "resume":
		if len(args) != 2 {
			return errUsage
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid room id %q", args[1])
		}
		ctx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		call := c.Pause
		if args[0] == "resume" {
			call = c.Resume
		}
		reply, err := call(ctx, *dom, id)
		if err != nil {
			return err
		}
		if !reply.OK {
			return fmt.Errorf("%s room %d: %s", args[0], id, reply.Error)
		}
		fmt.Fprintf(out, "room %d in domain %d: %sd\n", id, *dom, args[0])
		return nil

	case "rooms":
		ctx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		rooms, err := c.Rooms(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DOMAIN\tROOM\tSTATE\tCYCLES\tFALLS\tERROR")
		for _, r := range rooms {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%s\n", r.Domain, r.ID, r.State, r.Cycles, r.Falls, r.Error)
		}
		return tw.Flush()

	case "watch":
		var types []events.Type
		for _, t := range args[1:] {
			types = append(types, events.Type(t))
		}
		return watch(ctx, c, types, out)
	}
	return errUsage
}

// watch prints events until ctx is cancelled or the server goes away.
func watch(ctx context.Context, c *rpc.Client, types []events.Type, out io.Writer) error {
	stream, err := c.Events(ctx, types...)
	if err != nil {
		return err
	}
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch ev.Type {
		case events.TypeFallStart:
			fmt.Fprintf(out, "%s  FALL   domain %d room %d\n",
				ev.Timestamp.Local().Format(time.RFC3339), ev.DomainID, ev.Data.RoomID)
		default:
			fmt.Fprintf(out, "%s  %-6s domain %d room %d %s -> %s\n",
				ev.Timestamp.Local().Format(time.RFC3339), ev.Type, ev.DomainID, ev.Data.RoomID, ev.Data.From, ev.Data.To)
		}
	}
}
