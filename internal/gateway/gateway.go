package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/clippy-oss/homie/canister-chat/internal/domain"
	"github.com/clippy-oss/homie/canister-chat/internal/logger"
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	Target    string
	TargetID  string
	StatusURL string
	// Local enables development behavior: the root key is fetched from
	// StatusURL, health failures are tolerated and trust failures are
	// retried once.
	Local    bool
	Insecure bool
	// RootKey is the pinned key used outside local mode.
	RootKey []byte
	CAFile  string
	// Timeout bounds connection setup and each call.
	Timeout time.Duration

	DialOptions []grpc.DialOption
	HTTPClient  *http.Client
}

type Option func(*Gateway)

func WithDialer(d Dialer) Option {
	return func(g *Gateway) { g.dialer = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// errSuperseded marks a setup that finished after a Reset. It never leaves
// the package.
var errSuperseded = errors.New("connection reset during setup")

// Gateway owns the single channel to the backend and its trust material.
// Both are only mutated by setup and Reset.
type Gateway struct {
	cfg    Config
	dialer Dialer
	log    zerolog.Logger
	flight singleflight.Group

	mu         sync.RWMutex
	channel    Channel
	trust      *Trust
	generation uint64
}

func New(cfg Config, opts ...Option) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	g := &Gateway{
		cfg: cfg,
		log: logger.Module("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.dialer == nil {
		g.dialer = &grpcDialer{cfg: cfg, http: cfg.HTTPClient, log: g.log}
	}
	return g
}

// EnsureConnected returns once a verified channel exists. Concurrent callers
// share one in-flight setup.
func (g *Gateway) EnsureConnected(ctx context.Context) error {
	if g.cfg.Target == "" || g.cfg.TargetID == "" {
		return domain.NewError(domain.KindConnection, "connect",
			"Backend endpoint or target id is not configured.", nil)
	}

	for {
		g.mu.RLock()
		connected := g.channel != nil
		gen := g.generation
		g.mu.RUnlock()
		if connected {
			return nil
		}

		key := "connect-" + strconv.FormatUint(gen, 10)
		resultCh := g.flight.DoChan(key, func() (any, error) {
			return nil, g.setup(gen)
		})

		select {
		case res := <-resultCh:
			if errors.Is(res.Err, errSuperseded) {
				continue
			}
			return res.Err
		case <-ctx.Done():
			return normalize("connect", ctx.Err())
		}
	}
}

// setup runs detached from any single caller's context so that one caller
// giving up does not fail the others sharing it.
func (g *Gateway) setup(gen uint64) error {
	g.mu.RLock()
	done := g.channel != nil && g.generation == gen
	g.mu.RUnlock()
	if done {
		// A caller that sampled the state just before the previous setup
		// finished.
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	trust, err := g.establishTrust(ctx)
	if err != nil {
		return normalize("connect", err)
	}

	ch, err := g.dialer.Dial(ctx, trust)
	if err != nil {
		return normalize("connect", err)
	}

	if reply, err := ch.Invoke(ctx, MethodHealth, nil); err != nil {
		g.log.Warn().Err(err).Msg("Health probe failed during setup")
	} else if h, err := DecodeHealth(reply); err == nil {
		g.log.Debug().Str("status", h.Status).Msg("Health probe ok")
	}

	g.mu.Lock()
	if g.generation != gen {
		g.mu.Unlock()
		_ = ch.Close()
		return errSuperseded
	}
	g.channel = ch
	g.trust = trust
	g.mu.Unlock()

	g.log.Info().
		Str("target", g.cfg.Target).
		Str("target_id", g.cfg.TargetID).
		Bool("local", g.cfg.Local).
		Bool("verified", trust.Fingerprint != "").
		Dur("duration", time.Since(start)).
		Msg("Connected to backend")
	return nil
}

func (g *Gateway) establishTrust(ctx context.Context) (*Trust, error) {
	if g.cfg.Local {
		key, err := g.dialer.FetchRootKey(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
			g.log.Warn().Err(err).Msg("Could not fetch root key, continuing without verification")
			return NewTrust(nil), nil
		}
		return NewTrust(key), nil
	}

	if len(g.cfg.RootKey) == 0 {
		if g.cfg.Insecure {
			g.log.Warn().Msg("No root key pinned, calls are not verified")
			return NewTrust(nil), nil
		}
		return nil, domain.NewError(domain.KindConnection, "connect",
			"No root key configured for the backend.", nil)
	}
	return NewTrust(g.cfg.RootKey), nil
}

// Call invokes a backend operation. In local mode a trust verification
// failure is retried exactly once after fresh trust material is fetched.
func (g *Gateway) Call(ctx context.Context, method string, args ...*structpb.Value) (*structpb.Value, error) {
	reply, err := g.invoke(ctx, method, args)
	if err != nil && g.cfg.Local && isTrustFailure(err) {
		g.log.Warn().Err(err).Str("method", method).Msg("Trust verification failed, refreshing root key and retrying")
		g.Reset()
		reply, err = g.invoke(ctx, method, args)
	}
	if err != nil {
		return nil, normalize(method, err)
	}
	return reply, nil
}

func (g *Gateway) invoke(ctx context.Context, method string, args []*structpb.Value) (*structpb.Value, error) {
	if err := g.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	ch := g.channel
	g.mu.RUnlock()
	if ch == nil {
		return nil, domain.NewError(domain.KindConnection, method, msgConnection, errSuperseded)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return ch.Invoke(callCtx, method, args)
}

// Health probes the backend. In local mode a failed probe is reported as ok
// with the failure in Warning; otherwise it is always a connection error.
func (g *Gateway) Health(ctx context.Context) (HealthStatus, error) {
	reply, err := g.Call(ctx, MethodHealth)
	if err == nil {
		var h HealthStatus
		if h, err = DecodeHealth(reply); err == nil {
			return h, nil
		}
		err = normalize(MethodHealth, err)
	}

	if g.cfg.Local {
		g.log.Warn().Err(err).Msg("Health check failed in local mode")
		return HealthStatus{Status: "ok", Timestamp: time.Now(), Warning: err.Error()}, nil
	}
	if !domain.IsKind(err, domain.KindConnection) {
		err = domain.NewError(domain.KindConnection, MethodHealth, err.Error(), err)
	}
	return HealthStatus{}, err
}

// Reset drops the channel and trust material. The next call performs a full
// setup; a setup still in flight is discarded when it completes.
func (g *Gateway) Reset() {
	g.mu.Lock()
	ch := g.channel
	g.channel = nil
	g.trust = nil
	g.generation++
	g.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			g.log.Debug().Err(err).Msg("Closing channel")
		}
	}
}

func (g *Gateway) Close() error {
	g.Reset()
	return nil
}

func (g *Gateway) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.channel != nil
}

func (g *Gateway) TargetID() string {
	return g.cfg.TargetID
}

// Fingerprint returns the fingerprint of the current root key, or "".
func (g *Gateway) Fingerprint() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.trust == nil {
		return ""
	}
	return g.trust.Fingerprint
}
