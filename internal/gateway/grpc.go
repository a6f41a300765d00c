package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service every backend operation is exposed under.
const ServiceName = "chat.v1.ChatBackend"

const (
	MetadataTargetID    = "x-target-id"
	MetadataFingerprint = "x-root-key-fingerprint"
)

func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Channel invokes backend operations by name with positional arguments.
type Channel interface {
	Invoke(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error)
	Close() error
}

// Dialer produces the pieces of a connection setup. The default dials gRPC;
// tests substitute their own.
type Dialer interface {
	// FetchRootKey retrieves the backend's root key in local mode.
	FetchRootKey(ctx context.Context) ([]byte, error)
	Dial(ctx context.Context, trust *Trust) (Channel, error)
}

type grpcDialer struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

func (d *grpcDialer) FetchRootKey(ctx context.Context) ([]byte, error) {
	doc, err := FetchStatus(ctx, d.http, d.cfg.StatusURL)
	if err != nil {
		return nil, err
	}
	d.log.Debug().
		Str("impl_version", doc.ImplVersion).
		Str("replica_health", doc.ReplicaHealthStatus).
		Msg("Fetched root key from status endpoint")
	return doc.RootKey, nil
}

func (d *grpcDialer) Dial(_ context.Context, trust *Trust) (Channel, error) {
	creds, err := d.credentials()
	if err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithChainUnaryInterceptor(
			metadataInterceptor(d.cfg.TargetID, trust),
			loggingInterceptor(d.log),
		),
	}
	opts = append(opts, d.cfg.DialOptions...)

	conn, err := grpc.NewClient(d.cfg.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", d.cfg.Target, err)
	}
	return &grpcChannel{conn: conn}, nil
}

func (d *grpcDialer) credentials() (credentials.TransportCredentials, error) {
	switch {
	case d.cfg.Insecure:
		return insecure.NewCredentials(), nil
	case d.cfg.CAFile != "":
		creds, err := credentials.NewClientTLSFromFile(d.cfg.CAFile, "")
		if err != nil {
			return nil, fmt.Errorf("load CA file: %w", err)
		}
		return creds, nil
	}
	return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}), nil
}

type grpcChannel struct {
	conn *grpc.ClientConn
}

func (c *grpcChannel) Invoke(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	req := &structpb.ListValue{Values: args}
	reply := new(structpb.Value)
	if err := c.conn.Invoke(ctx, FullMethod(method), req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *grpcChannel) Close() error {
	return c.conn.Close()
}
