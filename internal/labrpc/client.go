package labrpc

import (
	"context"
	"fmt"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct

// Client wraps a connection to a lab server with typed calls.
type Client struct {
	conn   *grpc.ClientConn
	client LabClient
}

// #endregion client-struct

// #region constructor

// NewClient connects to a lab server.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, client: NewLabClient(conn)}, nil
}

// NewClientWithService creates a Client over an injected service implementation.
func NewClientWithService(svc LabClient) *Client {
	return &Client{client: svc}
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion constructor

// #region run

// Run executes a proposal remotely.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunResponse, error) {
	in, err := toStruct(req)
	if err != nil {
		return RunResponse{}, fmt.Errorf("run proposal rpc: %w", err)
	}
	out, err := c.client.RunProposal(ctx, in)
	if err != nil {
		return RunResponse{}, fmt.Errorf("run proposal rpc: %w", err)
	}
	var resp RunResponse
	if err := fromStruct(out, &resp); err != nil {
		return RunResponse{}, fmt.Errorf("run proposal rpc: %w", err)
	}
	return resp, nil
}

// DigestValue parses the response's results-table digest.
func (r RunResponse) DigestValue() (uint64, error) {
	return strconv.ParseUint(r.Digest, 16, 64)
}

// #endregion run

// #region describe

// Describe asks the server what proposals may name.
func (c *Client) Describe(ctx context.Context) (Description, error) {
	out, err := c.client.Describe(ctx, &structpb.Struct{})
	if err != nil {
		return Description{}, fmt.Errorf("describe rpc: %w", err)
	}
	var d Description
	if err := fromStruct(out, &d); err != nil {
		return Description{}, fmt.Errorf("describe rpc: %w", err)
	}
	return d, nil
}

// #endregion describe
