// Package grpc serves the chat backend contract over gRPC for the
// development backend.
package grpc

import (
	"context"
	"net"
	"sort"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clippy-oss/homie/canister-chat/internal/devbackend"
	"github.com/clippy-oss/homie/canister-chat/internal/gateway"
	"github.com/clippy-oss/homie/canister-chat/internal/logger"
)

type ServerConfig struct {
	Address  string
	TargetID string
}

// chatBackendServer is the handler type registered for the service.
type chatBackendServer interface {
	Invoke(ctx context.Context, method string, req *structpb.ListValue) (*structpb.Value, error)
}

type Server struct {
	server  *grpc.Server
	handler *Handler
	config  ServerConfig
	log     zerolog.Logger
}

func NewServer(store *devbackend.Store, keys Verifier, config ServerConfig, opts ...grpc.ServerOption) *Server {
	log := logger.Module("grpc-server")
	handler := NewHandler(store)

	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			LoggingInterceptor(log),
			RecoveryInterceptor(log),
			AuthInterceptor(config.TargetID, keys),
		),
	}, opts...)
	server := grpc.NewServer(opts...)

	desc := serviceDesc(handler.Methods())
	server.RegisterService(&desc, handler)

	return &Server{
		server:  server,
		handler: handler,
		config:  config,
		log:     log,
	}
}

// serviceDesc describes the ChatBackend service: one unary method per
// backend operation, taking a ListValue and returning a Value.
func serviceDesc(methods []string) grpc.ServiceDesc {
	sort.Strings(methods)
	desc := grpc.ServiceDesc{
		ServiceName: gateway.ServiceName,
		HandlerType: (*chatBackendServer)(nil),
	}
	for _, name := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(name),
		})
	}
	return desc
}

func unaryHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.ListValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		backend := srv.(chatBackendServer)
		if interceptor == nil {
			return backend.Invoke(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: gateway.FullMethod(method),
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return backend.Invoke(ctx, method, req.(*structpb.ListValue))
		})
	}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("address", lis.Addr().String()).Str("target_id", s.config.TargetID).Msg("Serving chat backend")
	return s.server.Serve(lis)
}

func (s *Server) Stop() {
	s.server.GracefulStop()
}
