package rpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"collision-kv/collision"
)

// Dial connects to a collision.Store server without transport security.
func Dial(host string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	var kacp = keepalive.ClientParameters{
		Time:                10 * time.Second, // send pings every 10 seconds if there is no activity
		Timeout:             time.Second,      // wait 1 second for ping ack before considering the connection dead
		PermitWithoutStream: true,             // send pings even without active streams
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)
	return grpc.NewClient(host, opts...)
}

// StoreClient is the client side of collision.Store.
type StoreClient struct {
	cc grpc.ClientConnInterface
}

func NewStoreClient(cc grpc.ClientConnInterface) *StoreClient {
	return &StoreClient{cc: cc}
}

// Get returns collision.ErrKeyNotFound when the server has no such key.
func (c *StoreClient) Get(ctx context.Context, key []byte) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, GetMethod, wrapperspb.Bytes(key), out); err != nil {
		return nil, fromStatus(err)
	}
	return out.GetValue(), nil
}

func (c *StoreClient) Apply(ctx context.Context, cmd *collision.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ApplyMethod, wrapperspb.Bytes(cmd.ToBytes()), out); err != nil {
		return fromStatus(err)
	}
	return nil
}

func fromStatus(err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch s.Code() {
	case codes.NotFound:
		return collision.ErrKeyNotFound
	case codes.DataLoss:
		return errors.Join(collision.ErrCorruptIndex, err)
	case codes.InvalidArgument:
		return errors.Join(collision.ErrInvalidCommand, err)
	default:
		return err
	}
}
