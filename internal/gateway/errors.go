package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

const (
	msgTimeout     = "Request timed out. Please try again."
	msgUnavailable = "Backend service is not available. Please check if the canister is running."
	msgConnection  = "Connection failed. Please check your internet connection."
)

// canisterNotFound is the marker a backend puts in errors for an unknown
// target id.
const canisterNotFound = "canister_not_found"

// isTrustFailure reports whether err came from certificate or root-key
// verification, the one failure retried after refreshing trust.
func isTrustFailure(err error) bool {
	if err == nil {
		return false
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.Unauthenticated {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "certificate")
}

// normalize maps any failure from setup or a call into the domain taxonomy.
// Errors that are already typed pass through unchanged.
func normalize(op string, err error) error {
	if err == nil {
		return nil
	}

	var chatErr *domain.Error
	if errors.As(err, &chatErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.KindTimeout, op, msgTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindConnection, op, op+" cancelled", err)
	}
	if errors.Is(err, ErrMalformed) {
		return domain.NewError(domain.KindConnection, op, fmt.Sprintf("%s failed: %v", op, err), err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return classifyText(op, err.Error(), err)
	}

	switch st.Code() {
	case codes.DeadlineExceeded:
		return domain.NewError(domain.KindTimeout, op, msgTimeout, err)
	case codes.Canceled:
		return domain.NewError(domain.KindConnection, op, op+" cancelled", err)
	case codes.NotFound:
		if strings.Contains(st.Message(), canisterNotFound) {
			return domain.NewError(domain.KindConnection, op, msgUnavailable, err)
		}
	case codes.Unavailable:
		return domain.NewError(domain.KindConnection, op, msgConnection, err)
	}
	return classifyText(op, st.Message(), err)
}

func classifyText(op, text string, err error) error {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, canisterNotFound):
		return domain.NewError(domain.KindConnection, op, msgUnavailable, err)
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return domain.NewError(domain.KindTimeout, op, msgTimeout, err)
	case strings.Contains(lower, "connection"):
		return domain.NewError(domain.KindConnection, op, msgConnection, err)
	}
	return domain.NewError(domain.KindConnection, op, fmt.Sprintf("%s failed: %s", op, text), err)
}
