package admin

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ServiceName is the health service name reported alongside the overall ("")
// status.
const ServiceName = "viewertrack"

const stopTimeout = 5 * time.Second

// Server is the gRPC admin endpoint. It exposes grpc.health.v1.Health so
// orchestrators can probe the process without touching the viewer port.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a Server. When key is non-empty every call must carry it in the
// header metadata entry.
func New(header, key string) *Server {
	gs := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryAPIKey(header, key)),
		grpc.StreamInterceptor(StreamAPIKey(header, key)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{grpc: gs, health: hs}
}

// Serve accepts connections on lis until ctx is cancelled, then reports
// NOT_SERVING and stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin: gRPC listening", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin: serve: %w", err)
		}
		return nil
	}
}

// Drain marks every service NOT_SERVING while still answering probes.
func (s *Server) Drain() {
	s.health.Shutdown()
}

// Shutdown drains and then stops the server. In-flight calls get
// stopTimeout to finish; health Watch streams never end on their own, so
// whatever is left after that is cut off.
func (s *Server) Shutdown() {
	s.Drain()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(stopTimeout):
		s.grpc.Stop()
		<-stopped
	}
}

// --- authentication ---------------------------------------------------------

// UnaryAPIKey returns a unary interceptor enforcing the API key. An empty key
// allows every call.
func UnaryAPIKey(header, key string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := authorize(ctx, header, key); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAPIKey is the streaming counterpart of UnaryAPIKey; health Watch is a
// server stream.
func StreamAPIKey(header, key string) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := authorize(ss.Context(), header, key); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func authorize(ctx context.Context, header, key string) error {
	if key == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(header)
	if len(vals) == 0 || subtle.ConstantTimeCompare([]byte(vals[0]), []byte(key)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}
