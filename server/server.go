package server

import (
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"collision-kv/server/rpc"
	"collision-kv/store"
)

// Server exposes a Store as the collision.Store gRPC service.
type Server struct {
	Address string

	st         *store.Store
	grpcServer *grpc.Server
	logger     *zap.Logger
	sugar      *zap.SugaredLogger
}

type Option func(s *Server)

func WithAddress(address string) Option {
	return func(s *Server) {
		s.Address = address
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(st *store.Store, opts ...Option) *Server {
	s := &Server{
		Address: ":9090",
		st:      st,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sugar = s.logger.Sugar()
	s.grpcServer = grpc.NewServer()
	rpc.RegisterStoreServer(s.grpcServer, rpc.NewRpcStore(st, s.logger))
	return s
}

// Start listens on Address and serves until Stop is called.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.Address)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.sugar.Infow("grpc server started", "address", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop waits for in-flight calls and closes the listener. The store is left
// open for its owner to close.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
	s.sugar.Infow("grpc server stopped")
}
