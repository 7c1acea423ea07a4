package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vpn-shop-bot/internal/config"
	apperrors "vpn-shop-bot/internal/errors"
	"vpn-shop-bot/internal/logger"
	"vpn-shop-bot/internal/plans"
)

// XUIClient provisions VLESS clients against a 3x-ui panel
type XUIClient struct {
	baseURL     string
	username    string
	password    string
	serverHost  string
	subPort     int
	restartPath string
	httpClient  *http.Client
	logger      *logger.Logger

	mu      sync.Mutex
	session *http.Cookie
}

// NewXUIClient creates a new 3x-ui panel client
func NewXUIClient(cfg config.XUIPanelConfig, log *logger.Logger) *XUIClient {
	return &XUIClient{
		baseURL:     strings.TrimSuffix(cfg.URL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		serverHost:  cfg.ServerHost,
		subPort:     cfg.SubPort,
		restartPath: cfg.RestartPath,
		httpClient:  newHTTPClient(),
		logger:      log.WithField("panel", "xui"),
	}
}

// apiEnvelope is the 3x-ui response wrapper
type apiEnvelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

type xuiInbound struct {
	ID             int    `json:"id"`
	Remark         string `json:"remark"`
	Port           int    `json:"port"`
	StreamSettings string `json:"streamSettings"`
}

type xuiStreamSettings struct {
	Network     string `json:"network"`
	Security    string `json:"security"`
	TLSSettings struct {
		ServerName string `json:"serverName"`
	} `json:"tlsSettings"`
	RealitySettings struct {
		ServerNames []string `json:"serverNames"`
		PublicKey   string   `json:"publicKey"`
		Fingerprint string   `json:"fingerprint"`
		Settings    struct {
			PublicKey   string `json:"publicKey"`
			Fingerprint string `json:"fingerprint"`
		} `json:"settings"`
	} `json:"realitySettings"`
	WSSettings struct {
		Path    string            `json:"path"`
		Headers map[string]string `json:"headers"`
	} `json:"wsSettings"`
	GRPCSettings struct {
		ServiceName string `json:"serviceName"`
	} `json:"grpcSettings"`
}

type xuiClientSettings struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
	Flow       string `json:"flow"`
}

// Authenticate logs into the panel and stores the session cookie.
// Safe to call repeatedly; each call replaces the session.
func (c *XUIClient) Authenticate(ctx context.Context) error {
	form := url.Values{
		"username": {c.username},
		"password": {c.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.Auth("failed to build login request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Auth("login request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return apperrors.Auth(fmt.Sprintf("login returned status %d: %s", resp.StatusCode, body), nil)
	}

	var result apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return apperrors.Auth("failed to decode login response", err)
	}
	if !result.Success {
		return apperrors.Auth(fmt.Sprintf("credentials rejected: %s", result.Msg), nil)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "3x-ui" || cookie.Name == "session" {
			c.mu.Lock()
			c.session = cookie
			c.mu.Unlock()
			return nil
		}
	}

	return apperrors.Auth("no session cookie in login response", nil)
}

// ensureSession authenticates lazily on first use
func (c *XUIClient) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	haveSession := c.session != nil
	c.mu.Unlock()

	if haveSession {
		return nil
	}
	return c.Authenticate(ctx)
}

// send performs one authenticated request and returns body and status
func (c *XUIClient) send(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	if c.session != nil {
		req.AddCookie(c.session)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	return data, resp.StatusCode, nil
}

// do sends an authenticated request, re-authenticating once on 401
func (c *XUIClient) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	data, status, err := c.send(ctx, method, path, form)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		data, status, err = c.send(ctx, method, path, form)
		if err != nil {
			return nil, err
		}
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("panel returned status %d: %s", status, data)
	}

	return data, nil
}

// DescribeListener fetches inbound metadata by id. Uncached: listener
// settings can change between provisioning calls.
func (c *XUIClient) DescribeListener(ctx context.Context, ref ListenerRef) (*ListenerConfig, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	data, err := c.do(ctx, http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, fmt.Errorf("inbounds request failed: %w", err)
	}

	var result apiEnvelope
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode inbounds response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("inbounds list returned success=false: %s", result.Msg)
	}

	var inbounds []xuiInbound
	if err := json.Unmarshal(result.Obj, &inbounds); err != nil {
		return nil, fmt.Errorf("failed to decode inbounds list: %w", err)
	}

	for _, inbound := range inbounds {
		if inbound.ID == ref.ID {
			return c.listenerConfig(inbound), nil
		}
	}

	return nil, apperrors.NotFound(fmt.Sprintf("inbound %d not found on panel", ref.ID))
}

// listenerConfig flattens an inbound's stream settings
func (c *XUIClient) listenerConfig(inbound xuiInbound) *ListenerConfig {
	lc := &ListenerConfig{
		ID:       inbound.ID,
		Name:     inbound.Remark,
		Port:     inbound.Port,
		Network:  "tcp",
		Security: "none",
	}

	var ss xuiStreamSettings
	if err := json.Unmarshal([]byte(inbound.StreamSettings), &ss); err != nil {
		c.logger.Warnf("Failed to parse streamSettings for inbound %d: %v", inbound.ID, err)
		return lc
	}

	if ss.Network != "" {
		lc.Network = ss.Network
	}
	if ss.Security != "" {
		lc.Security = ss.Security
	}

	switch lc.Security {
	case "tls":
		lc.SNI = ss.TLSSettings.ServerName
	case "reality":
		if len(ss.RealitySettings.ServerNames) > 0 {
			lc.SNI = ss.RealitySettings.ServerNames[0]
		}
		// newer panels nest the key pair under settings
		lc.PublicKey = ss.RealitySettings.PublicKey
		if lc.PublicKey == "" {
			lc.PublicKey = ss.RealitySettings.Settings.PublicKey
		}
		lc.Fingerprint = ss.RealitySettings.Fingerprint
		if lc.Fingerprint == "" {
			lc.Fingerprint = ss.RealitySettings.Settings.Fingerprint
		}
	}

	switch lc.Network {
	case "ws":
		lc.Path = ss.WSSettings.Path
		lc.Host = ss.WSSettings.Headers["Host"]
	case "grpc":
		lc.ServiceName = ss.GRPCSettings.ServiceName
	}

	return lc
}

// ProvisionClient registers a new VLESS client on the target inbound
func (c *XUIClient) ProvisionClient(ctx context.Context, req ProvisionRequest) (*Credential, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	listener, err := c.DescribeListener(ctx, req.Listener)
	if err != nil {
		return nil, err
	}

	// fresh identifier per call, never reused even on retry
	clientID := uuid.NewString()
	expiresAt := time.Now().Add(req.Validity)
	trafficBytes := TrafficLimitBytes(req.TrafficGB)

	client := xuiClientSettings{
		ID:         clientID,
		Email:      req.Label,
		LimitIP:    req.DeviceLimit,
		TotalGB:    trafficBytes,
		ExpiryTime: expiresAt.UnixMilli(),
		Enable:     true,
		SubID:      req.Label,
	}

	settings, err := json.Marshal(map[string]interface{}{"clients": []xuiClientSettings{client}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client settings: %w", err)
	}

	form := url.Values{
		"id":       {strconv.Itoa(req.Listener.ID)},
		"settings": {string(settings)},
	}

	data, err := c.do(ctx, http.MethodPost, "/panel/api/inbounds/addClient", form)
	if err != nil {
		return nil, apperrors.Provision("addClient request failed", err)
	}

	var result apiEnvelope
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apperrors.Provision("failed to decode addClient response", err)
	}
	if !result.Success {
		return nil, apperrors.Provision(fmt.Sprintf("addClient returned success=false: %s", result.Msg), nil)
	}

	c.logger.Infof("Provisioned client %s on inbound %d (limitIp=%d)", req.Label, req.Listener.ID, req.DeviceLimit)

	// IP limits only take effect after an Xray reload. Best effort:
	// the credential stays usable, the limit may just apply with a delay.
	if req.DeviceLimit > 0 {
		if err := c.restartXray(ctx); err != nil {
			c.logger.Warnf("Xray restart failed, IP limit may apply with a delay: %v", err)
		}
	}

	return &Credential{
		Protocol:          plans.ProtocolVLESS,
		ClientID:          clientID,
		Label:             req.Label,
		ExpiresAt:         expiresAt,
		DeviceLimit:       req.DeviceLimit,
		TrafficLimitBytes: trafficBytes,
		ConnectionURI:     c.buildConnectionURI(listener, clientID, req.Label),
		SubscriptionURL:   c.subscriptionURL(req.Label),
	}, nil
}

// restartXray reloads the Xray service via the configured endpoint
func (c *XUIClient) restartXray(ctx context.Context) error {
	data, err := c.do(ctx, http.MethodPost, c.restartPath, nil)
	if err != nil {
		return err
	}

	var result apiEnvelope
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("failed to decode restart response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("restart returned success=false: %s", result.Msg)
	}

	return nil
}

// buildConnectionURI builds the shareable vless:// URI for a client
func (c *XUIClient) buildConnectionURI(listener *ListenerConfig, clientID, label string) string {
	params := []string{"type=" + listener.Network}

	switch listener.Security {
	case "tls":
		params = append(params, "security=tls")
		if listener.SNI != "" {
			params = append(params, "sni="+listener.SNI)
		}
	case "reality":
		params = append(params, "security=reality")
		if listener.SNI != "" {
			params = append(params, "sni="+listener.SNI)
		}
		if listener.PublicKey != "" {
			params = append(params, "pbk="+listener.PublicKey)
		}
		if listener.Fingerprint != "" {
			params = append(params, "fp="+listener.Fingerprint)
		}
	default:
		params = append(params, "security=none")
	}

	switch listener.Network {
	case "ws":
		if listener.Path != "" {
			params = append(params, "path="+url.QueryEscape(listener.Path))
		}
		if listener.Host != "" {
			params = append(params, "host="+listener.Host)
		}
	case "grpc":
		if listener.ServiceName != "" {
			params = append(params, "serviceName="+listener.ServiceName)
		}
	}

	params = append(params, "encryption=none")

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		clientID, c.serverHost, listener.Port, strings.Join(params, "&"), url.PathEscape(label))
}

// subscriptionURL builds the panel-hosted subscription endpoint for a client
func (c *XUIClient) subscriptionURL(label string) string {
	return fmt.Sprintf("https://%s:%d/sub/%s", c.serverHost, c.subPort, url.PathEscape(label))
}
