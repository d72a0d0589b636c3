package client

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"collision-kv/collision"
	"collision-kv/server/rpc"
)

// Client talks to one collision.Store server.
type Client struct {
	target      string
	timeout     time.Duration
	dialOptions []grpc.DialOption

	conn *grpc.ClientConn
	rc   *rpc.StoreClient
}

func NewClient(target string, opts ...Option) (*Client, error) {
	cli := &Client{
		target:  target,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cli)
	}
	conn, err := rpc.Dial(target, cli.dialOptions...)
	if err != nil {
		return nil, err
	}
	cli.conn = conn
	cli.rc = rpc.NewStoreClient(conn)
	return cli, nil
}

func (c *Client) Get(key []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.rc.Get(ctx, key)
}

func (c *Client) Put(key, value []byte) error {
	return c.apply(collision.InsertCommand(key, value))
}

func (c *Client) Delete(key []byte) error {
	return c.apply(collision.DeleteCommand(key))
}

func (c *Client) apply(cmd *collision.Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.rc.Apply(ctx, cmd)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
