package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/xnail/internal/engine/service"
	"go.trai.ch/zerr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// chunkSize bounds the payload of a single stream message.
const chunkSize = 32 * 1024

// ServiceFactory creates the service instance a server runs transforms on.
type ServiceFactory func() (*service.Service, error)

// Server implements the daemon gRPC service.
type Server struct {
	addr       domain.Address
	lifecycle  *Lifecycle
	registry   *service.Registry[Server]
	newService ServiceFactory
	logger     ports.Logger
	version    string

	grpcServer *grpc.Server
	running    atomic.Bool
	ready      chan struct{}
	readyOnce  sync.Once
	listenAddr atomic.Pointer[net.Addr]
}

// NewServer creates a daemon server listening on addr. Its service instance
// is created through registry on the first transform and released when
// serving ends.
func NewServer(
	addr domain.Address,
	lifecycle *Lifecycle,
	registry *service.Registry[Server],
	newService ServiceFactory,
	logger ports.Logger,
	version string,
) *Server {
	s := &Server{
		addr:       addr,
		lifecycle:  lifecycle,
		registry:   registry,
		newService: newService,
		logger:     logger,
		version:    version,
		grpcServer: grpc.NewServer(),
		ready:      make(chan struct{}),
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the address the server listens on, once Ready is closed.
func (s *Server) Addr() net.Addr {
	if p := s.listenAddr.Load(); p != nil {
		return *p
	}
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Stop stops accepting connections and waits for in-flight requests.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Serve listens on the server address and serves until Stop is called or ctx
// is cancelled. Before it returns, the service instance is released and the
// socket and PID file are removed.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := s.listen()
	if err != nil {
		return err
	}

	if err := s.writePIDFile(); err != nil {
		_ = lis.Close()
		return err
	}
	defer s.cleanup()

	addr := lis.Addr()
	s.listenAddr.Store(&addr)
	s.running.Store(true)
	defer s.running.Store(false)
	s.readyOnce.Do(func() { close(s.ready) })

	served := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-served:
		}
	}()

	err = s.grpcServer.Serve(lis)
	close(served)

	if releaseErr := s.registry.Release(s); releaseErr != nil {
		s.logger.Error(zerr.Wrap(releaseErr, "failed to release service instance"))
	}

	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return zerr.Wrap(err, "daemon server failed")
	}
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	if !s.addr.IsLocal() {
		lis, err := net.Listen("tcp", s.addr.Addr)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to listen"), "address", s.addr.Addr)
		}
		if err := os.MkdirAll(filepath.Dir(s.addr.PIDPath()), domain.DirPerm); err != nil {
			_ = lis.Close()
			return nil, zerr.Wrap(err, "failed to create daemon directory")
		}
		return lis, nil
	}

	socketPath := s.addr.Addr
	if err := os.MkdirAll(filepath.Dir(socketPath), domain.DirPerm); err != nil {
		return nil, zerr.Wrap(err, "failed to create daemon directory")
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, zerr.Wrap(err, "failed to remove stale socket")
	}

	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to listen on UDS"), "address", socketPath)
	}
	if err := os.Chmod(socketPath, domain.SocketPerm); err != nil {
		_ = lis.Close()
		return nil, zerr.Wrap(err, "failed to set socket permissions")
	}
	return lis, nil
}

func (s *Server) writePIDFile() error {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(s.addr.PIDPath(), []byte(pid), domain.PrivateFilePerm); err != nil {
		return zerr.Wrap(err, "failed to write PID file")
	}
	return nil
}

func (s *Server) cleanup() {
	if s.addr.IsLocal() {
		_ = os.Remove(s.addr.Addr)
	}
	_ = os.Remove(s.addr.PIDPath())
}

func (s *Server) service() (*service.Service, error) {
	return s.registry.Get(s, s.newService)
}

func (s *Server) ping(_ context.Context, _ *pingRequest) (*pingResponse, error) {
	s.lifecycle.ResetTimer()
	return &pingResponse{
		IdleRemainingSeconds: int64(s.lifecycle.IdleRemaining().Seconds()),
	}, nil
}

func (s *Server) status(_ context.Context, _ *statusRequest) (*statusResponse, error) {
	s.lifecycle.ResetTimer()

	var cached int
	if svc, ok := s.registry.Lookup(s); ok {
		cached = svc.CachedPrograms()
	}

	return &statusResponse{
		Running:              true,
		PID:                  int64(os.Getpid()),
		UptimeSeconds:        int64(s.lifecycle.Uptime().Seconds()),
		LastActivityUnix:     s.lifecycle.LastActivity().Unix(),
		IdleRemainingSeconds: int64(s.lifecycle.IdleRemaining().Seconds()),
		CachedPrograms:       int64(cached),
		Version:              s.version,
	}, nil
}

func (s *Server) shutdown(_ context.Context, _ *shutdownRequest) (*shutdownResponse, error) {
	s.logger.Info("shutdown requested")
	s.lifecycle.Shutdown()
	return &shutdownResponse{Success: true}, nil
}

func (s *Server) transform(stream grpc.ServerStream) error {
	s.lifecycle.Begin()
	defer s.lifecycle.End()

	var first transformRequest
	if err := stream.RecvMsg(&first); err != nil {
		return err
	}
	if first.Header == nil {
		return status.Error(codes.InvalidArgument, "first Transform message must carry the header")
	}

	op, err := operationFromHeader(first.Header)
	if err != nil {
		return finish(stream, err)
	}

	svc, err := s.service()
	if err != nil {
		s.logger.Error(zerr.Wrap(err, "failed to create service instance"))
		return finish(stream, err)
	}

	stdin, stdinWriter := io.Pipe()
	defer func() { _ = stdin.Close() }()
	go receiveStdin(stream, first, stdinWriter)

	err = svc.Transform(stream.Context(), op, stdin, &chunkWriter{stream: stream})
	if err != nil && !domain.IsUserError(err) {
		s.logger.Error(err)
	}
	return finish(stream, err)
}

// finish sends the failure text, if any, and the final exit status.
func finish(stream grpc.ServerStream, err error) error {
	if err != nil {
		text := err.Error()
		if !domain.IsUserError(err) {
			text = "internal error: " + text
		}
		if sendErr := stream.SendMsg(&transformResponse{Stderr: []byte(text + "\n")}); sendErr != nil {
			return sendErr
		}
	}
	return stream.SendMsg(&transformResponse{
		ExitStatus: int64(domain.ExitStatusOf(err)),
		Done:       true,
	})
}

// receiveStdin copies stdin chunks from the stream into w until the client
// signals the end of input.
func receiveStdin(stream grpc.ServerStream, first transformRequest, w *io.PipeWriter) {
	msg := first
	for {
		if len(msg.Stdin) > 0 {
			if _, err := w.Write(msg.Stdin); err != nil {
				return
			}
		}
		if msg.StdinEOF {
			_ = w.Close()
			return
		}

		msg = transformRequest{}
		if err := stream.RecvMsg(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				_ = w.Close()
			} else {
				_ = w.CloseWithError(err)
			}
			return
		}
	}
}

func operationFromHeader(h *transformHeader) (domain.TransformOperation, error) {
	program, err := domain.NewSourceIdentity(h.Cwd, h.Program)
	if err != nil {
		return domain.TransformOperation{}, domain.NewUserError(fmt.Sprintf("Invalid program path %q: %v", h.Program, err))
	}

	input := h.Input
	if h.HasInput && input != domain.StdinPath && !filepath.IsAbs(input) && h.Cwd != "" {
		input = filepath.Join(h.Cwd, input)
	}

	params := domain.Parameters{}
	for _, p := range h.Params {
		params.Add(p.Name, p.Value)
	}

	return domain.TransformOperation{
		Program:     program,
		Input:       input,
		HasInput:    h.HasInput,
		SystemID:    h.SystemID,
		HasSystemID: h.HasSystemID,
		Parameters:  params,
	}, nil
}

// chunkWriter sends everything written to it as stdout messages.
type chunkWriter struct {
	stream grpc.ServerStream
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), chunkSize)
		if err := w.stream.SendMsg(&transformResponse{Stdout: p[:n]}); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}
