package panel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"vpn-shop-bot/internal/config"
	apperrors "vpn-shop-bot/internal/errors"
	"vpn-shop-bot/internal/logger"
	"vpn-shop-bot/internal/plans"
)

const shadowsocksMethod = "chacha20-ietf-poly1305"

// MarzbanClient provisions Shadowsocks (Outline-compatible) users
// against a Marzban panel
type MarzbanClient struct {
	baseURL     string
	username    string
	password    string
	serverHost  string
	inboundName string
	httpClient  *http.Client
	logger      *logger.Logger

	mu    sync.Mutex
	token string
}

// NewMarzbanClient creates a new Marzban panel client
func NewMarzbanClient(cfg config.MarzbanPanelConfig, log *logger.Logger) *MarzbanClient {
	baseURL := strings.TrimSuffix(cfg.URL, "/")
	// panel URLs are often pasted with the dashboard path attached
	baseURL = strings.Replace(baseURL, "/dashboard", "", 1)

	return &MarzbanClient{
		baseURL:     baseURL,
		username:    cfg.Username,
		password:    cfg.Password,
		serverHost:  cfg.ServerHost,
		inboundName: cfg.InboundName,
		httpClient:  newHTTPClient(),
		logger:      log.WithField("panel", "marzban"),
	}
}

type marzbanUserRequest struct {
	Username               string                       `json:"username"`
	Proxies                map[string]map[string]string `json:"proxies"`
	Inbounds               map[string][]string          `json:"inbounds"`
	Expire                 int64                        `json:"expire"`
	DataLimit              int64                        `json:"data_limit"`
	DataLimitResetStrategy string                       `json:"data_limit_reset_strategy"`
	Status                 string                       `json:"status"`
	Note                   string                       `json:"note"`
}

type marzbanUserResponse struct {
	Username        string   `json:"username"`
	Links           []string `json:"links"`
	SubscriptionURL string   `json:"subscription_url"`
	Proxies         map[string]struct {
		Method   string `json:"method"`
		Password string `json:"password"`
	} `json:"proxies"`
}

type marzbanInbound struct {
	Tag  string `json:"tag"`
	Port int    `json:"port"`
}

// Authenticate exchanges credentials for a bearer token
func (c *MarzbanClient) Authenticate(ctx context.Context) error {
	form := url.Values{
		"username":   {c.username},
		"password":   {c.password},
		"grant_type": {"password"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return apperrors.Auth("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Auth("token request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return apperrors.Auth(fmt.Sprintf("token endpoint returned status %d: %s", resp.StatusCode, body), nil)
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return apperrors.Auth("failed to decode token response", err)
	}
	if result.AccessToken == "" {
		return apperrors.Auth("no access_token in response", nil)
	}

	c.mu.Lock()
	c.token = result.AccessToken
	c.mu.Unlock()

	return nil
}

func (c *MarzbanClient) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	haveToken := c.token != ""
	c.mu.Unlock()

	if haveToken {
		return nil
	}
	return c.Authenticate(ctx)
}

// send performs one bearer-authenticated request
func (c *MarzbanClient) send(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
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

// do sends a bearer-authenticated request, re-authenticating once on 401
func (c *MarzbanClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	data, status, err := c.send(ctx, method, path, payload)
	if err != nil {
		return nil, status, err
	}

	if status == http.StatusUnauthorized {
		if err := c.Authenticate(ctx); err != nil {
			return nil, status, err
		}
		return c.send(ctx, method, path, payload)
	}

	return data, status, nil
}

// DescribeListener resolves a shadowsocks inbound by tag name.
// The ref name falls back to the configured inbound when empty.
func (c *MarzbanClient) DescribeListener(ctx context.Context, ref ListenerRef) (*ListenerConfig, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	name := ref.Name
	if name == "" {
		name = c.inboundName
	}

	data, status, err := c.do(ctx, http.MethodGet, "/api/inbounds", nil)
	if err != nil {
		return nil, fmt.Errorf("inbounds request failed: %w", err)
	}

	if status == http.StatusNotFound {
		// older panels have no inbounds endpoint; the configured name is
		// still valid for user creation
		return &ListenerConfig{Name: name, Port: 443, Network: "tcp", Security: "none"}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("inbounds endpoint returned status %d: %s", status, data)
	}

	var inbounds map[string][]marzbanInbound
	if err := json.Unmarshal(data, &inbounds); err != nil {
		return nil, fmt.Errorf("failed to decode inbounds response: %w", err)
	}

	for _, inbound := range inbounds["shadowsocks"] {
		if inbound.Tag == name {
			return &ListenerConfig{
				Name:     inbound.Tag,
				Port:     inbound.Port,
				Network:  "tcp",
				Security: "none",
			}, nil
		}
	}

	return nil, apperrors.NotFound(fmt.Sprintf("shadowsocks inbound %q not found on panel", name))
}

// ProvisionClient creates a Shadowsocks user and returns its Outline key
func (c *MarzbanClient) ProvisionClient(ctx context.Context, req ProvisionRequest) (*Credential, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	listener, err := c.DescribeListener(ctx, req.Listener)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(req.Validity)
	trafficBytes := TrafficLimitBytes(req.TrafficGB)

	payload, err := json.Marshal(marzbanUserRequest{
		Username:               req.Label,
		Proxies:                map[string]map[string]string{"shadowsocks": {"method": shadowsocksMethod}},
		Inbounds:               map[string][]string{"shadowsocks": {listener.Name}},
		Expire:                 expiresAt.Unix(),
		DataLimit:              trafficBytes,
		DataLimitResetStrategy: "no_reset",
		Status:                 "active",
		Note:                   "issued via storefront bot",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user request: %w", err)
	}

	data, status, err := c.do(ctx, http.MethodPost, "/api/user", payload)
	if err != nil {
		return nil, apperrors.Provision("user creation request failed", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, apperrors.Provision(fmt.Sprintf("user creation returned status %d: %s", status, data), nil)
	}

	var result marzbanUserResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, apperrors.Provision("failed to decode user response", err)
	}

	c.logger.Infof("Provisioned user %s (expire=%d)", result.Username, expiresAt.Unix())

	return &Credential{
		Protocol:          plans.ProtocolOutline,
		ClientID:          result.Username,
		Label:             req.Label,
		ExpiresAt:         expiresAt,
		DeviceLimit:       req.DeviceLimit,
		TrafficLimitBytes: trafficBytes,
		ConnectionURI:     c.outlineKey(&result, listener),
		SubscriptionURL:   c.subscriptionURL(&result),
	}, nil
}

// outlineKey extracts the ss:// link from the panel response, or
// constructs one from the generated proxy credentials
func (c *MarzbanClient) outlineKey(user *marzbanUserResponse, listener *ListenerConfig) string {
	for _, link := range user.Links {
		if strings.HasPrefix(link, "ss://") {
			return link
		}
	}

	proxy, ok := user.Proxies["shadowsocks"]
	if !ok || proxy.Password == "" {
		return ""
	}

	method := proxy.Method
	if method == "" {
		method = shadowsocksMethod
	}

	auth := base64.URLEncoding.WithPadding(base64.NoPadding).
		EncodeToString([]byte(method + ":" + proxy.Password))

	return fmt.Sprintf("ss://%s@%s:%d#%s", auth, c.serverHost, listener.Port, url.PathEscape(user.Username))
}

// subscriptionURL returns the panel-reported subscription endpoint, or
// the conventional one when the panel omits it
func (c *MarzbanClient) subscriptionURL(user *marzbanUserResponse) string {
	sub := user.SubscriptionURL
	if sub == "" {
		return fmt.Sprintf("%s/sub/%s", c.baseURL, url.PathEscape(user.Username))
	}
	if strings.HasPrefix(sub, "/") {
		return c.baseURL + sub
	}
	return sub
}
