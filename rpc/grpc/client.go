package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client calls a NodeStatus server.
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// NewClient connects to target. An empty token sends no credentials.
// Without dial options the connection is insecure.
func NewClient(target, token string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(NewCodec())))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	return &Client{conn: conn, token: token}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func encodeParams(params any) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	return b, nil
}

// Call runs method and decodes its result into result, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	raw, err := encodeParams(params)
	if err != nil {
		return err
	}
	resp := new(CallResponse)
	if err := c.conn.Invoke(c.outgoing(ctx), FullMethodCall, &CallRequest{Method: method, Params: raw}, resp); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, result)
}

// WatchClient receives the results of a Watch stream.
type WatchClient struct {
	stream grpc.ClientStream
}

// Watch opens a stream of method results. Cancel ctx to end it.
func (c *Client) Watch(ctx context.Context, method string, params any) (*WatchClient, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	stream, err := c.conn.NewStream(c.outgoing(ctx), &nodeStatusServiceDesc.Streams[0], FullMethodWatch)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{Method: method, Params: raw}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchClient{stream: stream}, nil
}

// Recv blocks for the next result.
func (w *WatchClient) Recv() (*WatchResponse, error) {
	resp := new(WatchResponse)
	if err := w.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}
