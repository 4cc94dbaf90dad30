// Package daemon implements the background daemon adapter for xnail.
// It provides the gRPC server and client used between the command line and
// the long-running transform daemon.
package daemon

import (
	"context"
	"errors"
	"io"
	"time"

	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/zerr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client implements ports.DaemonClient.
type Client struct {
	conn *grpc.ClientConn
}

var _ ports.DaemonClient = (*Client)(nil)

// Dial creates a client for the daemon at addr.
// Note: grpc.NewClient returns immediately; actual connection happens lazily on first RPC.
func Dial(addr domain.Address) (*Client, error) {
	conn, err := grpc.NewClient(addr.Target(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "daemon client creation failed"), "address", addr.String())
	}
	return &Client{conn: conn}, nil
}

// Ping implements ports.DaemonClient.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Invoke(ctx, pingMethod, &pingRequest{}, &pingResponse{})
}

// Status implements ports.DaemonClient.
func (c *Client) Status(ctx context.Context) (*ports.DaemonStatus, error) {
	resp := &statusResponse{}
	if err := c.conn.Invoke(ctx, statusMethod, &statusRequest{}, resp); err != nil {
		return nil, err
	}
	return &ports.DaemonStatus{
		Running:        resp.Running,
		PID:            int(resp.PID),
		Uptime:         time.Duration(resp.UptimeSeconds) * time.Second,
		LastActivity:   time.Unix(resp.LastActivityUnix, 0),
		IdleRemaining:  time.Duration(resp.IdleRemainingSeconds) * time.Second,
		CachedPrograms: int(resp.CachedPrograms),
		Version:        resp.Version,
	}, nil
}

// Shutdown implements ports.DaemonClient.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.conn.Invoke(ctx, shutdownMethod, &shutdownRequest{}, &shutdownResponse{})
}

// Transform implements ports.DaemonClient.
func (c *Client) Transform(ctx context.Context, req ports.TransformRequest) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], transformMethod)
	if err != nil {
		return domain.ExitInternalError, zerr.Wrap(err, "failed to open transform stream")
	}

	header := &transformHeader{
		Program:     req.Program,
		Input:       req.Input,
		HasInput:    req.HasInput,
		SystemID:    req.SystemID,
		HasSystemID: req.HasSystemID,
		Cwd:         req.Cwd,
	}
	for name, values := range req.Parameters {
		for _, v := range values {
			header.Params = append(header.Params, &parameter{Name: name, Value: v})
		}
	}

	op := domain.TransformOperation{
		Input:       req.Input,
		HasInput:    req.HasInput,
		SystemID:    req.SystemID,
		HasSystemID: req.HasSystemID,
	}
	sendsStdin := op.ReadsStdin() && req.Stdin != nil

	if err := stream.SendMsg(&transformRequest{Header: header, StdinEOF: !sendsStdin}); err != nil {
		return domain.ExitInternalError, zerr.Wrap(err, "failed to send transform request")
	}
	if sendsStdin {
		go sendStdin(stream, req.Stdin)
	} else if err := stream.CloseSend(); err != nil {
		return domain.ExitInternalError, zerr.Wrap(err, "failed to send transform request")
	}

	for {
		var resp transformResponse
		if err := stream.RecvMsg(&resp); err != nil {
			if errors.Is(err, io.EOF) {
				return domain.ExitInternalError, zerr.Wrap(domain.ErrProtocolViolation, "stream ended without exit status")
			}
			return domain.ExitInternalError, zerr.Wrap(err, "transform stream failed")
		}
		if len(resp.Stdout) > 0 && req.Stdout != nil {
			if _, err := req.Stdout.Write(resp.Stdout); err != nil {
				return domain.ExitInternalError, zerr.Wrap(err, "failed to write output")
			}
		}
		if len(resp.Stderr) > 0 && req.Stderr != nil {
			if _, err := req.Stderr.Write(resp.Stderr); err != nil {
				return domain.ExitInternalError, zerr.Wrap(err, "failed to write diagnostics")
			}
		}
		if resp.Done {
			return int(resp.ExitStatus), nil
		}
	}
}

// sendStdin streams r to the daemon in chunks and closes the send side.
func sendStdin(stream grpc.ClientStream, r io.Reader) {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if sendErr := stream.SendMsg(&transformRequest{Stdin: buf[:n]}); sendErr != nil {
				return
			}
		}
		if err != nil {
			_ = stream.SendMsg(&transformRequest{StdinEOF: true})
			_ = stream.CloseSend()
			return
		}
	}
}

// Close implements ports.DaemonClient.
func (c *Client) Close() error {
	return c.conn.Close()
}
