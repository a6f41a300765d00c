package devbackend

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"sync"

	"github.com/clippy-oss/homie/canister-chat/internal/gateway"
	"github.com/clippy-oss/homie/canister-chat/internal/logger"
)

const rootKeySize = 96

// KeyRing holds the root key the backend advertises on its status endpoint
// and checks client fingerprints against.
type KeyRing struct {
	mu          sync.RWMutex
	key         []byte
	fingerprint string
}

func NewKeyRing() (*KeyRing, error) {
	k := &KeyRing{}
	if err := k.Rotate(); err != nil {
		return nil, err
	}
	return k, nil
}

// Rotate replaces the root key. Clients holding the old fingerprint fail
// verification until they fetch the new key.
func (k *KeyRing) Rotate() error {
	key := make([]byte, rootKeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate root key: %w", err)
	}
	k.mu.Lock()
	k.key = key
	k.fingerprint = gateway.Fingerprint(key)
	k.mu.Unlock()
	return nil
}

func (k *KeyRing) RootKey() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]byte(nil), k.key...)
}

func (k *KeyRing) Fingerprint() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.fingerprint
}

// StatusHandler serves the CBOR status document with the current root key.
func StatusHandler(keys *KeyRing, version string) http.Handler {
	log := logger.Module("status")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := gateway.EncodeStatus(gateway.StatusDocument{
			RootKey:             keys.RootKey(),
			ImplVersion:         version,
			ReplicaHealthStatus: "healthy",
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode status")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/cbor")
		if _, err := w.Write(body); err != nil {
			log.Debug().Err(err).Msg("Writing status response")
		}
	})
}

// NewStatusMux routes the status document at gateway.StatusPath.
func NewStatusMux(keys *KeyRing, version string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(gateway.StatusPath, StatusHandler(keys, version))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}
