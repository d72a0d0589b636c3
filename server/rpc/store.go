package rpc

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"collision-kv/collision"
	"collision-kv/store"
)

const (
	ServiceName = "collision.Store"

	GetMethod   = "/" + ServiceName + "/Get"
	ApplyMethod = "/" + ServiceName + "/Apply"
)

// StoreServer is the server side of collision.Store. Get takes a key and
// returns its value; Apply takes a gob encoded collision.Command.
type StoreServer interface {
	Get(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Apply(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var StoreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Apply", Handler: applyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "collision/store",
}

func RegisterStoreServer(s grpc.ServiceRegistrar, srv StoreServer) {
	s.RegisterService(&StoreServiceDesc, srv)
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StoreServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StoreServer).Get(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func applyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StoreServer).Apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ApplyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StoreServer).Apply(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

type RpcStore struct {
	st    *store.Store
	sugar *zap.SugaredLogger
}

func NewRpcStore(st *store.Store, logger *zap.Logger) *RpcStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RpcStore{st: st, sugar: logger.Sugar()}
}

func (rs *RpcStore) Get(ctx context.Context, p *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	value, err := rs.st.Get(p.GetValue())
	if err != nil {
		return nil, rs.toStatus(err)
	}
	return wrapperspb.Bytes(value), nil
}

func (rs *RpcStore) Apply(ctx context.Context, p *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	cmd := &collision.Command{}
	if err := cmd.FromBytes(p.GetValue()); err != nil {
		return nil, rs.toStatus(err)
	}
	if err := rs.st.Apply(cmd); err != nil {
		return nil, rs.toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (rs *RpcStore) toStatus(err error) error {
	switch {
	case errors.Is(err, collision.ErrKeyNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, collision.ErrCorruptIndex):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, collision.ErrInvalidCommand),
		errors.Is(err, collision.ErrKeyTooLarge),
		errors.Is(err, collision.ErrValueTooLarge):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrStoreClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		rs.sugar.Errorw("store call failed", "err", err)
		return status.Error(codes.Internal, err.Error())
	}
}
