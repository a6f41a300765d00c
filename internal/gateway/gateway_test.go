package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
)

type invokeFunc func(ctx context.Context, method string, args []*structpb.Value, trust *Trust) (*structpb.Value, error)

// fakeDialer counts setup steps. When gate is non-nil, Dial blocks until it
// is closed, after signalling on dialing.
type fakeDialer struct {
	rootKey  []byte
	fetchErr error
	gate     chan struct{}
	dialing  chan struct{}
	invoke   invokeFunc

	fetches atomic.Int32
	dials   atomic.Int32
}

func (d *fakeDialer) FetchRootKey(ctx context.Context) ([]byte, error) {
	d.fetches.Add(1)
	if d.fetchErr != nil {
		return nil, d.fetchErr
	}
	return d.rootKey, nil
}

func (d *fakeDialer) Dial(ctx context.Context, trust *Trust) (Channel, error) {
	d.dials.Add(1)
	if d.gate != nil {
		if d.dialing != nil {
			select {
			case d.dialing <- struct{}{}:
			default:
			}
		}
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &fakeChannel{dialer: d, trust: trust}, nil
}

type fakeChannel struct {
	dialer *fakeDialer
	trust  *Trust
}

func (c *fakeChannel) Invoke(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	if c.dialer.invoke == nil {
		return EncodeHealth(HealthStatus{Status: "ok", Timestamp: time.Unix(1, 0)}), nil
	}
	return c.dialer.invoke(ctx, method, args, c.trust)
}

func (c *fakeChannel) Close() error { return nil }

func testConfig(local bool) Config {
	return Config{
		Target:   "bufnet",
		TargetID: "rrkah-fqaaa-aaaaa-aaaaq-cai",
		Local:    local,
		RootKey:  []byte("pinned-root-key"),
		Timeout:  time.Second,
	}
}

func TestEnsureConnectedSingleFlight(t *testing.T) {
	dialer := &fakeDialer{
		rootKey: []byte("local-root-key"),
		gate:    make(chan struct{}),
		dialing: make(chan struct{}, 1),
	}
	gw := New(testConfig(true), WithDialer(dialer))

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- gw.EnsureConnected(context.Background())
		}()
	}

	select {
	case <-dialer.dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("setup never started")
	}
	close(dialer.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureConnected() error = %v", err)
		}
	}
	if n := dialer.dials.Load(); n != 1 {
		t.Errorf("dials = %d, want exactly 1", n)
	}
	if n := dialer.fetches.Load(); n != 1 {
		t.Errorf("root key fetches = %d, want exactly 1", n)
	}
	if !gw.Ready() {
		t.Error("gateway not ready after successful setup")
	}

	// Connected: no further setup.
	if err := gw.EnsureConnected(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := dialer.dials.Load(); n != 1 {
		t.Errorf("dials after reconnect check = %d, want 1", n)
	}
}

func TestEnsureConnectedRequiresEndpoint(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := testConfig(false)
	cfg.TargetID = ""
	gw := New(cfg, WithDialer(dialer))

	err := gw.EnsureConnected(context.Background())
	if !domain.IsKind(err, domain.KindConnection) {
		t.Fatalf("error = %v, want connection error", err)
	}
	if dialer.dials.Load() != 0 {
		t.Error("dialed without a configured target id")
	}
}

func TestEnsureConnectedNonLocalNeedsRootKey(t *testing.T) {
	cfg := testConfig(false)
	cfg.RootKey = nil
	gw := New(cfg, WithDialer(&fakeDialer{}))

	if err := gw.EnsureConnected(context.Background()); !domain.IsKind(err, domain.KindConnection) {
		t.Fatalf("error = %v, want connection error", err)
	}
}

func TestTrustMaterial(t *testing.T) {
	t.Run("local fetch", func(t *testing.T) {
		dialer := &fakeDialer{rootKey: []byte("local-root-key")}
		gw := New(testConfig(true), WithDialer(dialer))
		if err := gw.EnsureConnected(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got, want := gw.Fingerprint(), Fingerprint([]byte("local-root-key")); got != want {
			t.Errorf("Fingerprint() = %q, want %q", got, want)
		}
	})

	t.Run("local fetch failure is tolerated", func(t *testing.T) {
		dialer := &fakeDialer{fetchErr: errors.New("connection refused")}
		gw := New(testConfig(true), WithDialer(dialer))
		if err := gw.EnsureConnected(context.Background()); err != nil {
			t.Fatalf("EnsureConnected() error = %v, want local leniency", err)
		}
		if gw.Fingerprint() != "" {
			t.Error("expected no fingerprint without a root key")
		}
	})

	t.Run("pinned", func(t *testing.T) {
		dialer := &fakeDialer{}
		gw := New(testConfig(false), WithDialer(dialer))
		if err := gw.EnsureConnected(context.Background()); err != nil {
			t.Fatal(err)
		}
		if dialer.fetches.Load() != 0 {
			t.Error("non-local mode fetched the root key")
		}
		if got, want := gw.Fingerprint(), Fingerprint([]byte("pinned-root-key")); got != want {
			t.Errorf("Fingerprint() = %q, want %q", got, want)
		}
	})
}

func TestCallRetriesTrustFailureOnceInLocalMode(t *testing.T) {
	var attempts atomic.Int32
	dialer := &fakeDialer{rootKey: []byte("k")}
	dialer.invoke = func(ctx context.Context, method string, args []*structpb.Value, trust *Trust) (*structpb.Value, error) {
		if method != MethodGetAllUsers {
			return EncodeHealth(HealthStatus{Status: "ok"}), nil
		}
		if attempts.Add(1) == 1 {
			return nil, status.Error(codes.Unauthenticated, "certificate verification failed: root key fingerprint mismatch")
		}
		return EncodeUsers(nil), nil
	}
	gw := New(testConfig(true), WithDialer(dialer))

	if _, err := gw.Call(context.Background(), MethodGetAllUsers); err != nil {
		t.Fatalf("Call() error = %v, want success after retry", err)
	}
	if n := attempts.Load(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
	if n := dialer.fetches.Load(); n != 2 {
		t.Errorf("root key fetches = %d, want 2 (trust re-established)", n)
	}
}

func TestCallRetriesAtMostOnce(t *testing.T) {
	var attempts atomic.Int32
	dialer := &fakeDialer{rootKey: []byte("k")}
	dialer.invoke = func(ctx context.Context, method string, args []*structpb.Value, trust *Trust) (*structpb.Value, error) {
		if method == MethodHealth {
			return EncodeHealth(HealthStatus{Status: "ok"}), nil
		}
		attempts.Add(1)
		return nil, status.Error(codes.Unauthenticated, "certificate verification failed")
	}

	t.Run("local", func(t *testing.T) {
		attempts.Store(0)
		gw := New(testConfig(true), WithDialer(dialer))
		_, err := gw.Call(context.Background(), MethodGetAllUsers)
		if !domain.IsKind(err, domain.KindConnection) {
			t.Fatalf("error = %v, want connection error", err)
		}
		if n := attempts.Load(); n != 2 {
			t.Errorf("attempts = %d, want 2", n)
		}
	})

	t.Run("non-local", func(t *testing.T) {
		attempts.Store(0)
		gw := New(testConfig(false), WithDialer(dialer))
		_, err := gw.Call(context.Background(), MethodGetAllUsers)
		if !domain.IsKind(err, domain.KindConnection) {
			t.Fatalf("error = %v, want connection error", err)
		}
		if n := attempts.Load(); n != 1 {
			t.Errorf("attempts = %d, want 1", n)
		}
	})
}

func TestCallNormalizesErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    domain.ErrorKind
		message string
	}{
		{
			name:    "deadline",
			err:     status.Error(codes.DeadlineExceeded, "context deadline exceeded"),
			kind:    domain.KindTimeout,
			message: msgTimeout,
		},
		{
			name:    "unknown target",
			err:     status.Error(codes.NotFound, "canister_not_found: abc"),
			kind:    domain.KindConnection,
			message: msgUnavailable,
		},
		{
			name:    "unavailable",
			err:     status.Error(codes.Unavailable, "connection refused"),
			kind:    domain.KindConnection,
			message: msgConnection,
		},
		{
			name:    "other",
			err:     status.Error(codes.Internal, "boom"),
			kind:    domain.KindConnection,
			message: "getAllUsers failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{}
			dialer.invoke = func(ctx context.Context, method string, args []*structpb.Value, trust *Trust) (*structpb.Value, error) {
				if method == MethodHealth {
					return EncodeHealth(HealthStatus{Status: "ok"}), nil
				}
				return nil, tt.err
			}
			gw := New(testConfig(false), WithDialer(dialer))

			_, err := gw.Call(context.Background(), MethodGetAllUsers)
			var chatErr *domain.Error
			if !errors.As(err, &chatErr) {
				t.Fatalf("error %v is not a *domain.Error", err)
			}
			if chatErr.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", chatErr.Kind, tt.kind)
			}
			if chatErr.Message != tt.message {
				t.Errorf("message = %q, want %q", chatErr.Message, tt.message)
			}
		})
	}
}

func TestCallTimeout(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.invoke = func(ctx context.Context, method string, args []*structpb.Value, trust *Trust) (*structpb.Value, error) {
		if method == MethodHealth {
			return EncodeHealth(HealthStatus{Status: "ok"}), nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	cfg := testConfig(false)
	cfg.Timeout = 50 * time.Millisecond
	gw := New(cfg, WithDialer(dialer))

	start := time.Now()
	_, err := gw.Call(context.Background(), MethodGetAllUsers)
	if !domain.IsKind(err, domain.KindTimeout) {
		t.Fatalf("error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("call took %v, bound was not enforced", elapsed)
	}
}

func TestResetDiscardsInFlightSetup(t *testing.T) {
	dialer := &fakeDialer{
		gate:    make(chan struct{}),
		dialing: make(chan struct{}, 1),
	}
	gw := New(testConfig(false), WithDialer(dialer))

	done := make(chan error, 1)
	go func() { done <- gw.EnsureConnected(context.Background()) }()

	<-dialer.dialing
	gw.Reset()
	close(dialer.gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("EnsureConnected() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("EnsureConnected did not return")
	}
	if n := dialer.dials.Load(); n != 2 {
		t.Errorf("dials = %d, want 2 (stale setup discarded, fresh one performed)", n)
	}
	if !gw.Ready() {
		t.Error("gateway not ready")
	}

	gw.Reset()
	if gw.Ready() {
		t.Error("gateway still ready after Reset")
	}
}

func TestHealth(t *testing.T) {
	failing := func() *fakeDialer {
		d := &fakeDialer{rootKey: []byte("k")}
		d.invoke = func(ctx context.Context, method string, args []*structpb.Value, trust *Trust) (*structpb.Value, error) {
			return nil, status.Error(codes.Unavailable, "connection refused")
		}
		return d
	}

	t.Run("local failure reported as ok", func(t *testing.T) {
		gw := New(testConfig(true), WithDialer(failing()))
		h, err := gw.Health(context.Background())
		if err != nil {
			t.Fatalf("Health() error = %v, want nil in local mode", err)
		}
		if h.Status != "ok" || h.Warning == "" {
			t.Errorf("Health() = %+v, want ok with warning", h)
		}
	})

	t.Run("non-local failure", func(t *testing.T) {
		gw := New(testConfig(false), WithDialer(failing()))
		if _, err := gw.Health(context.Background()); !domain.IsKind(err, domain.KindConnection) {
			t.Fatalf("Health() error = %v, want connection error", err)
		}
	})

	t.Run("non-local timeout", func(t *testing.T) {
		d := &fakeDialer{rootKey: []byte("k")}
		d.invoke = func(ctx context.Context, method string, args []*structpb.Value, trust *Trust) (*structpb.Value, error) {
			return nil, status.Error(codes.DeadlineExceeded, "deadline exceeded")
		}
		gw := New(testConfig(false), WithDialer(d))
		_, err := gw.Health(context.Background())
		if !domain.IsKind(err, domain.KindConnection) {
			t.Fatalf("Health() error = %v (kind %q), want connection error", err, domain.KindOf(err))
		}
		if !strings.Contains(err.Error(), "timed out") {
			t.Errorf("Health() error = %q, want the timeout reason kept", err)
		}
	})

	t.Run("success", func(t *testing.T) {
		gw := New(testConfig(false), WithDialer(&fakeDialer{}))
		h, err := gw.Health(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if h.Status != "ok" || h.Warning != "" {
			t.Errorf("Health() = %+v", h)
		}
	})
}
