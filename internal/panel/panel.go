package panel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vpn-shop-bot/internal/config"
	apperrors "vpn-shop-bot/internal/errors"
	"vpn-shop-bot/internal/logger"
	"vpn-shop-bot/internal/plans"
)

// ListenerRef identifies a listener on a panel. XUI inbounds are
// addressed by numeric id, Marzban inbounds by tag name.
type ListenerRef struct {
	ID   int
	Name string
}

// ListenerConfig is the server-side listener metadata needed to build
// a connection URI. Fetched fresh on every provisioning call because
// listener settings can change between calls.
type ListenerConfig struct {
	ID          int
	Name        string
	Port        int
	Network     string // tcp, ws, grpc
	Security    string // none, tls, reality
	SNI         string
	PublicKey   string
	Fingerprint string
	Path        string
	Host        string
	ServiceName string
}

// ProvisionRequest describes one client to register on a panel
type ProvisionRequest struct {
	Listener    ListenerRef
	Label       string
	DeviceLimit int
	TrafficGB   int // 0 = unlimited
	Validity    time.Duration
}

// Credential is an issued client identity. Immutable once created;
// renewals supersede it with a new credential.
type Credential struct {
	Protocol          plans.Protocol
	ClientID          string // XUI: client UUID, Marzban: unique username
	Label             string
	ExpiresAt         time.Time
	DeviceLimit       int
	TrafficLimitBytes int64
	ConnectionURI     string
	SubscriptionURL   string
}

// Provisioner is the capability contract shared by all panel variants
type Provisioner interface {
	// Authenticate exchanges credentials for a panel session. Idempotent;
	// invoked lazily on first use and again after an authorization failure.
	Authenticate(ctx context.Context) error

	// DescribeListener fetches current listener metadata, uncached.
	DescribeListener(ctx context.Context, ref ListenerRef) (*ListenerConfig, error)

	// ProvisionClient registers a new client and returns its credential.
	// A failed add-client call is not retried; the typed error is
	// surfaced to the caller.
	ProvisionClient(ctx context.Context, req ProvisionRequest) (*Credential, error)
}

// Registry holds the configured panel clients keyed by protocol
type Registry struct {
	clients map[plans.Protocol]Provisioner
}

// NewRegistry builds panel clients for every configured variant
func NewRegistry(cfg *config.Config, log *logger.Logger) *Registry {
	r := &Registry{clients: make(map[plans.Protocol]Provisioner)}

	if cfg.Panels.XUI.URL != "" {
		r.clients[plans.ProtocolVLESS] = NewXUIClient(cfg.Panels.XUI, log)
	}
	if cfg.Panels.Marzban.URL != "" {
		r.clients[plans.ProtocolOutline] = NewMarzbanClient(cfg.Panels.Marzban, log)
	}

	return r
}

// For returns the client for a protocol, or ErrNotConfigured
func (r *Registry) For(proto plans.Protocol) (Provisioner, error) {
	client, ok := r.clients[proto]
	if !ok {
		return nil, apperrors.NotConfigured(fmt.Sprintf("no panel configured for protocol %s", proto))
	}
	return client, nil
}

// Register installs a client for a protocol. Used by tests and by
// deployments that bring their own Provisioner.
func (r *Registry) Register(proto plans.Protocol, client Provisioner) {
	r.clients[proto] = client
}

// TrafficLimitBytes converts a GB cap to bytes. The 0 sentinel stays 0
// and means unlimited.
func TrafficLimitBytes(gb int) int64 {
	if gb <= 0 {
		return 0
	}
	return int64(gb) << 30
}

// BuildLabel derives a panel-side client label from the requester's
// identity and the issuance time, so the same requester buying the same
// plan twice never collides.
func BuildLabel(identity string, now time.Time) string {
	identity = strings.ReplaceAll(strings.TrimSpace(identity), " ", "_")
	return fmt.Sprintf("%s_%d", identity, now.Unix())
}

// newHTTPClient builds the shared panel HTTP client. Certificate
// verification is disabled because self-hosted panels commonly run on
// self-signed certificates.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}
