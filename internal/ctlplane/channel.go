package ctlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/mdlayher/vsock"

	"grimm.is/npfkit/internal/dict"
	"grimm.is/npfkit/internal/npf"
)

// Channel carries commands to the engine.
type Channel interface {
	// Send delivers req and reports only success or failure.
	Send(ctx context.Context, cmd Command, req *dict.Map) error
	// SendRecv delivers req and returns the engine's response document.
	SendRecv(ctx context.Context, cmd Command, req *dict.Map) (*dict.Map, error)
	Close() error
}

const serviceMethod = "Server.Exchange"

// DialFunc opens a fresh connection to the engine.
type DialFunc func() (net.Conn, error)

// RPCChannel is a Channel over net/rpc. A broken connection is redialed
// once per call.
type RPCChannel struct {
	dial   DialFunc
	client *rpc.Client
	mu     sync.RWMutex
}

// Dial connects to addr: a unix socket path, or "vsock:<cid>:<port>".
func Dial(addr string) (*RPCChannel, error) {
	dial, err := dialerFor(addr)
	if err != nil {
		return nil, err
	}
	return NewRPCChannel(dial)
}

// NewRPCChannel connects using dial.
func NewRPCChannel(dial DialFunc) (*RPCChannel, error) {
	conn, err := dial()
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return &RPCChannel{dial: dial, client: rpc.NewClient(conn)}, nil
}

func dialerFor(addr string) (DialFunc, error) {
	if rest, ok := strings.CutPrefix(addr, "vsock:"); ok {
		cid, port, err := parseVsock(rest)
		if err != nil {
			return nil, err
		}
		return func() (net.Conn, error) { return vsock.Dial(cid, port, nil) }, nil
	}
	return func() (net.Conn, error) { return net.Dial("unix", addr) }, nil
}

func parseVsock(s string) (cid, port uint32, err error) {
	cidStr, portStr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: vsock address %q: want cid:port", npf.ErrInvalidArgument, s)
	}
	c, err := strconv.ParseUint(cidStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: vsock cid %q", npf.ErrInvalidArgument, cidStr)
	}
	p, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: vsock port %q", npf.ErrInvalidArgument, portStr)
	}
	return uint32(c), uint32(p), nil
}

// Close closes the connection.
func (c *RPCChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

func (c *RPCChannel) Send(ctx context.Context, cmd Command, req *dict.Map) error {
	_, err := c.exchange(ctx, cmd, req, false)
	return err
}

func (c *RPCChannel) SendRecv(ctx context.Context, cmd Command, req *dict.Map) (*dict.Map, error) {
	return c.exchange(ctx, cmd, req, true)
}

func (c *RPCChannel) exchange(ctx context.Context, cmd Command, req *dict.Map, wantReply bool) (*dict.Map, error) {
	args := &ExchangeArgs{Command: cmd, WantReply: wantReply}
	if req != nil {
		data, err := dict.Marshal(req)
		if err != nil {
			return nil, &TransportError{Op: "encode", Err: err}
		}
		args.Payload = data
	}

	var reply ExchangeReply
	if err := c.call(ctx, args, &reply); err != nil {
		return nil, err
	}
	if reply.Errno != 0 {
		return nil, &npf.PeerError{Code: reply.Errno}
	}
	if !wantReply {
		return nil, nil
	}
	if len(reply.Payload) == 0 {
		return nil, &TransportError{Op: cmd.String(), Errno: syscall.EPROTO}
	}
	resp, err := dict.UnmarshalMap(reply.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", cmd, err)
	}
	return resp, nil
}

// call wraps the RPC call with reconnection logic
func (c *RPCChannel) call(ctx context.Context, args *ExchangeArgs, reply *ExchangeReply) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		if err := c.reconnect(nil); err != nil {
			return err
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
	}

	err := callContext(ctx, client, args, reply)
	if err == nil {
		return nil
	}
	if err == rpc.ErrShutdown || isNetworkError(err) {
		if recErr := c.reconnect(client); recErr != nil {
			return &TransportError{Op: args.Command.String(), Err: fmt.Errorf("%v; reconnect: %w", err, recErr)}
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
		err = callContext(ctx, client, args, reply)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &TransportError{Op: args.Command.String(), Err: err}
	}
	return nil
}

func callContext(ctx context.Context, client *rpc.Client, args *ExchangeArgs, reply *ExchangeReply) error {
	call := client.Go(serviceMethod, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *RPCChannel) reconnect(old *rpc.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Someone else already reconnected.
	if c.client != old && c.client != nil {
		return nil
	}
	if c.client != nil {
		c.client.Close()
	}

	conn, err := c.dial()
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	c.client = rpc.NewClient(conn)
	return nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection is shut down") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "bad file descriptor") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "use of closed network connection")
}
