package panel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"vpn-shop-bot/internal/config"
	apperrors "vpn-shop-bot/internal/errors"
	"vpn-shop-bot/internal/logger"
)

// fakeMarzbanPanel imitates the Marzban HTTP API for client tests
type fakeMarzbanPanel struct {
	mu          sync.Mutex
	tokenCount  int
	userCount   int
	userPayload map[string]interface{}

	rejectToken   bool
	noInboundsAPI bool
	failFirstUser bool
	userResponse  map[string]interface{}
}

func (f *fakeMarzbanPanel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/admin/token":
		f.tokenCount++
		if f.rejectToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok123"})

	case "/api/inbounds":
		if f.noInboundsAPI {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string][]map[string]interface{}{
			"shadowsocks": {
				{"tag": "Shadowsocks TCP", "port": 8388},
				{"tag": "Shadowsocks Alt", "port": 9000},
			},
		})

	case "/api/user":
		f.userCount++
		if f.failFirstUser && f.userCount == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.userPayload = map[string]interface{}{}
		_ = json.NewDecoder(r.Body).Decode(&f.userPayload)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(f.userResponse)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newMarzbanTestClient(t *testing.T, fake *fakeMarzbanPanel) *MarzbanClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	return NewMarzbanClient(config.MarzbanPanelConfig{
		URL:         srv.URL + "/dashboard", // pasted-with-dashboard form
		Username:    "admin",
		Password:    "secret",
		ServerHost:  "ss.example.com",
		InboundName: "Shadowsocks TCP",
	}, logger.GetLogger())
}

func TestMarzbanAuthenticateRejected(t *testing.T) {
	client := newMarzbanTestClient(t, &fakeMarzbanPanel{rejectToken: true})

	err := client.Authenticate(context.Background())
	if !errors.Is(err, apperrors.ErrAuth) {
		t.Errorf("Authenticate with bad credentials = %v, want ErrAuth", err)
	}
}

func TestMarzbanDescribeListener(t *testing.T) {
	client := newMarzbanTestClient(t, &fakeMarzbanPanel{})
	ctx := context.Background()

	// empty ref name falls back to the configured inbound
	lc, err := client.DescribeListener(ctx, ListenerRef{})
	if err != nil {
		t.Fatalf("DescribeListener: %v", err)
	}
	if lc.Name != "Shadowsocks TCP" || lc.Port != 8388 {
		t.Errorf("listener = %s:%d, want Shadowsocks TCP:8388", lc.Name, lc.Port)
	}

	lc, err = client.DescribeListener(ctx, ListenerRef{Name: "Shadowsocks Alt"})
	if err != nil {
		t.Fatalf("DescribeListener(alt): %v", err)
	}
	if lc.Port != 9000 {
		t.Errorf("alt listener port = %d, want 9000", lc.Port)
	}

	_, err = client.DescribeListener(ctx, ListenerRef{Name: "missing"})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("DescribeListener(missing) = %v, want ErrNotFound", err)
	}
}

func TestMarzbanDescribeListenerNoInboundsEndpoint(t *testing.T) {
	client := newMarzbanTestClient(t, &fakeMarzbanPanel{noInboundsAPI: true})

	lc, err := client.DescribeListener(context.Background(), ListenerRef{})
	if err != nil {
		t.Fatalf("DescribeListener on old panel: %v", err)
	}
	if lc.Name != "Shadowsocks TCP" || lc.Port != 443 {
		t.Errorf("fallback listener = %s:%d, want Shadowsocks TCP:443", lc.Name, lc.Port)
	}
}

func TestMarzbanProvisionClientPanelLink(t *testing.T) {
	fake := &fakeMarzbanPanel{
		userResponse: map[string]interface{}{
			"username":         "dave_1700000000",
			"links":            []string{"vmess://ignored", "ss://cGFuZWw@ss.example.com:8388#dave"},
			"subscription_url": "/sub/dave_1700000000/abc",
		},
	}
	client := newMarzbanTestClient(t, fake)

	before := time.Now()
	cred, err := client.ProvisionClient(context.Background(), ProvisionRequest{
		Listener:  ListenerRef{Name: "Shadowsocks TCP"},
		Label:     "dave_1700000000",
		TrafficGB: 10,
		Validity:  30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("ProvisionClient: %v", err)
	}

	if cred.ConnectionURI != "ss://cGFuZWw@ss.example.com:8388#dave" {
		t.Errorf("ConnectionURI = %s, want the panel-issued ss:// link", cred.ConnectionURI)
	}
	if cred.ClientID != "dave_1700000000" {
		t.Errorf("ClientID = %s, want dave_1700000000", cred.ClientID)
	}

	// relative subscription path is anchored to the panel base URL
	wantSuffix := "/sub/dave_1700000000/abc"
	if len(cred.SubscriptionURL) <= len(wantSuffix) ||
		cred.SubscriptionURL[len(cred.SubscriptionURL)-len(wantSuffix):] != wantSuffix {
		t.Errorf("SubscriptionURL = %s, want base URL + %s", cred.SubscriptionURL, wantSuffix)
	}

	fake.mu.Lock()
	payload := fake.userPayload
	fake.mu.Unlock()

	if payload["username"] != "dave_1700000000" {
		t.Errorf("payload username = %v", payload["username"])
	}
	if payload["status"] != "active" {
		t.Errorf("payload status = %v, want active", payload["status"])
	}
	if payload["data_limit_reset_strategy"] != "no_reset" {
		t.Errorf("payload reset strategy = %v, want no_reset", payload["data_limit_reset_strategy"])
	}
	if got := int64(payload["data_limit"].(float64)); got != int64(10)<<30 {
		t.Errorf("data_limit = %d, want %d", got, int64(10)<<30)
	}

	wantExpire := before.Add(30 * 24 * time.Hour).Unix()
	if got := int64(payload["expire"].(float64)); got < wantExpire || got > wantExpire+5 {
		t.Errorf("expire = %d, want within 5s after %d", got, wantExpire)
	}
}

func TestMarzbanProvisionClientManualKey(t *testing.T) {
	fake := &fakeMarzbanPanel{
		userResponse: map[string]interface{}{
			"username": "erin_1700000000",
			"proxies": map[string]interface{}{
				"shadowsocks": map[string]string{
					"method":   "chacha20-ietf-poly1305",
					"password": "pw-erin",
				},
			},
		},
	}
	client := newMarzbanTestClient(t, fake)

	cred, err := client.ProvisionClient(context.Background(), ProvisionRequest{
		Listener: ListenerRef{Name: "Shadowsocks TCP"},
		Label:    "erin_1700000000",
		Validity: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("ProvisionClient: %v", err)
	}

	auth := base64.URLEncoding.WithPadding(base64.NoPadding).
		EncodeToString([]byte("chacha20-ietf-poly1305:pw-erin"))
	want := "ss://" + auth + "@ss.example.com:8388#erin_1700000000"
	if cred.ConnectionURI != want {
		t.Errorf("ConnectionURI =\n  %s\nwant\n  %s", cred.ConnectionURI, want)
	}

	// panel omitted subscription_url, conventional path is used
	wantSuffix := "/sub/erin_1700000000"
	if len(cred.SubscriptionURL) <= len(wantSuffix) ||
		cred.SubscriptionURL[len(cred.SubscriptionURL)-len(wantSuffix):] != wantSuffix {
		t.Errorf("SubscriptionURL = %s, want base URL + %s", cred.SubscriptionURL, wantSuffix)
	}
}

func TestMarzbanReauthenticatesOn401(t *testing.T) {
	fake := &fakeMarzbanPanel{
		failFirstUser: true,
		userResponse: map[string]interface{}{
			"username": "frank_1",
			"links":    []string{"ss://a@b:1#frank_1"},
		},
	}
	client := newMarzbanTestClient(t, fake)

	_, err := client.ProvisionClient(context.Background(), ProvisionRequest{
		Listener: ListenerRef{Name: "Shadowsocks TCP"},
		Label:    "frank_1",
		Validity: time.Hour,
	})
	if err != nil {
		t.Fatalf("ProvisionClient after 401: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.tokenCount != 2 {
		t.Errorf("tokenCount = %d, want 2 (lazy auth plus re-auth after 401)", fake.tokenCount)
	}
	if fake.userCount != 2 {
		t.Errorf("userCount = %d, want 2 (rejected call plus retry)", fake.userCount)
	}
}
