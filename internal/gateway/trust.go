package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// StatusPath is where a local backend publishes its status document.
const StatusPath = "/api/v2/status"

// maxStatusSize caps the status document read from the wire.
const maxStatusSize = 64 << 10

// StatusDocument is the CBOR status a local backend serves. RootKey is the key
// whose fingerprint every call must present.
type StatusDocument struct {
	RootKey             []byte `cbor:"root_key"`
	ImplVersion         string `cbor:"impl_version,omitempty"`
	ReplicaHealthStatus string `cbor:"replica_health_status,omitempty"`
}

// Trust is the verified key material the channel presents on every call. A
// zero Trust carries no fingerprint.
type Trust struct {
	RootKey     []byte
	Fingerprint string
}

func NewTrust(rootKey []byte) *Trust {
	if len(rootKey) == 0 {
		return &Trust{}
	}
	key := append([]byte(nil), rootKey...)
	return &Trust{RootKey: key, Fingerprint: Fingerprint(key)}
}

// Fingerprint is the hex BLAKE3-256 digest of a root key.
func Fingerprint(rootKey []byte) string {
	sum := blake3.Sum256(rootKey)
	return hex.EncodeToString(sum[:])
}

func EncodeStatus(doc StatusDocument) ([]byte, error) {
	return cbor.Marshal(doc)
}

func DecodeStatus(data []byte) (*StatusDocument, error) {
	var doc StatusDocument
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if len(doc.RootKey) == 0 {
		return nil, errors.New("status document has no root key")
	}
	return &doc, nil
}

// FetchStatus retrieves and decodes the status document from baseURL.
func FetchStatus(ctx context.Context, client *http.Client, baseURL string) (*StatusDocument, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(baseURL, "/") + StatusPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/cbor")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status: unexpected HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusSize))
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	return DecodeStatus(data)
}
