package grpc

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/clippy-oss/homie/canister-chat/internal/gateway"
)

func LoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		log.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}

func RecoveryInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("method", info.FullMethod).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered")
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// Verifier supplies the fingerprint callers must present.
type Verifier interface {
	Fingerprint() string
}

// AuthInterceptor rejects calls addressed to another target id, and calls
// whose root-key fingerprint does not match. Calls without a fingerprint are
// let through, as an unverified local client sends none.
func AuthInterceptor(targetID string, keys Verifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		target := first(md, gateway.MetadataTargetID)
		if target != targetID {
			return nil, status.Errorf(codes.NotFound, "canister_not_found: %s", target)
		}

		if fp := first(md, gateway.MetadataFingerprint); fp != "" && keys != nil && fp != keys.Fingerprint() {
			return nil, status.Error(codes.Unauthenticated, "certificate verification failed: root key fingerprint mismatch")
		}
		return handler(ctx, req)
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
