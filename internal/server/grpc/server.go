// Package grpc hosts consumer gRPC services behind an access-token check and
// serves the standard gRPC health service.
package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
)

// Authorizer decides whether an authenticated user may proceed.
type Authorizer interface {
	Authorize(ctx context.Context, userID string) (bool, error)
}

// Registrar registers a consumer service on the host server.
type Registrar func(grpc.ServiceRegistrar)

type GRPCServer struct {
	address    string
	logger     logging.Logger
	codec      *auth.Codec
	authorizer Authorizer
	public     map[string]struct{}
	services   []Registrar
}

// NewGRPCServer builds a host. publicMethods are full method names
// ("/pkg.Service/Method") served without an access token, in addition to
// the health service.
func NewGRPCServer(a string, l logging.Logger, codec *auth.Codec, authz Authorizer, publicMethods []string) *GRPCServer {
	public := map[string]struct{}{
		"/" + healthpb.Health_ServiceDesc.ServiceName + "/Check": {},
		"/" + healthpb.Health_ServiceDesc.ServiceName + "/Watch": {},
	}
	for _, m := range publicMethods {
		public[m] = struct{}{}
	}

	return &GRPCServer{
		address:    a,
		logger:     l.With("module", "grpc_server"),
		codec:      codec,
		authorizer: authz,
		public:     public,
	}
}

// Register adds a consumer service. It must be called before Run.
func (s *GRPCServer) Register(r Registrar) {
	s.services = append(s.services, r)
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {

	// creates gRPC-server
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.accessTokenStreamInterceptor),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	for _, r := range s.services {
		r(srv)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
