package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"vpn-shop-bot/internal/config"
	apperrors "vpn-shop-bot/internal/errors"
	"vpn-shop-bot/internal/logger"
)

const testRestartPath = "/panel/setting/restartXrayService"

// fakeXUIPanel imitates the 3x-ui HTTP API for client tests
type fakeXUIPanel struct {
	mu            sync.Mutex
	loginCount    int
	listCount     int
	restartCount  int
	addClientForm map[string][]string

	rejectLogin   bool
	omitCookie    bool
	failFirstList bool
	restartFails  bool
	inbounds      []map[string]interface{}
}

func (f *fakeXUIPanel) envelope(w http.ResponseWriter, success bool, msg string, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": success,
		"msg":     msg,
		"obj":     obj,
	})
}

func (f *fakeXUIPanel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/login":
		f.loginCount++
		if f.rejectLogin {
			f.envelope(w, false, "invalid credentials", nil)
			return
		}
		if !f.omitCookie {
			http.SetCookie(w, &http.Cookie{Name: "3x-ui", Value: fmt.Sprintf("sess-%d", f.loginCount)})
		}
		f.envelope(w, true, "", nil)

	case "/panel/api/inbounds/list":
		f.listCount++
		if f.failFirstList && f.listCount == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.envelope(w, true, "", f.inbounds)

	case "/panel/api/inbounds/addClient":
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.addClientForm = r.PostForm
		f.envelope(w, true, "", nil)

	case testRestartPath:
		f.restartCount++
		if f.restartFails {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.envelope(w, true, "", nil)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func streamSettingsJSON(t *testing.T, settings map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(settings)
	if err != nil {
		t.Fatalf("marshal streamSettings: %v", err)
	}
	return string(data)
}

func newXUITestClient(t *testing.T, fake *fakeXUIPanel) (*XUIClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := NewXUIClient(config.XUIPanelConfig{
		URL:         srv.URL,
		Username:    "admin",
		Password:    "secret",
		ServerHost:  "vpn.example.com",
		SubPort:     2053,
		RestartPath: testRestartPath,
	}, logger.GetLogger())
	return client, srv
}

func TestXUIAuthenticateRejected(t *testing.T) {
	client, _ := newXUITestClient(t, &fakeXUIPanel{rejectLogin: true})

	err := client.Authenticate(context.Background())
	if !errors.Is(err, apperrors.ErrAuth) {
		t.Errorf("Authenticate with bad credentials = %v, want ErrAuth", err)
	}
}

func TestXUIAuthenticateMissingCookie(t *testing.T) {
	client, _ := newXUITestClient(t, &fakeXUIPanel{omitCookie: true})

	err := client.Authenticate(context.Background())
	if !errors.Is(err, apperrors.ErrAuth) {
		t.Errorf("Authenticate without session cookie = %v, want ErrAuth", err)
	}
}

func TestXUIDescribeListener(t *testing.T) {
	fake := &fakeXUIPanel{
		inbounds: []map[string]interface{}{
			{
				"id":     1,
				"remark": "Main",
				"port":   443,
				"streamSettings": `{
					"network": "tcp",
					"security": "reality",
					"realitySettings": {
						"serverNames": ["cdn.example.org"],
						"fingerprint": "chrome",
						"settings": {"publicKey": "nested-pbk"}
					}
				}`,
			},
			{
				"id":             2,
				"remark":         "WS",
				"port":           8080,
				"streamSettings": `{"network":"ws","security":"tls","tlsSettings":{"serverName":"ws.example.org"},"wsSettings":{"path":"/tunnel","headers":{"Host":"ws.example.org"}}}`,
			},
		},
	}
	client, _ := newXUITestClient(t, fake)
	ctx := context.Background()

	lc, err := client.DescribeListener(ctx, ListenerRef{ID: 1})
	if err != nil {
		t.Fatalf("DescribeListener(1): %v", err)
	}
	if lc.Network != "tcp" || lc.Security != "reality" {
		t.Errorf("listener 1 = %s/%s, want tcp/reality", lc.Network, lc.Security)
	}
	if lc.SNI != "cdn.example.org" {
		t.Errorf("SNI = %s, want cdn.example.org", lc.SNI)
	}
	// key pair nested under settings on newer panels
	if lc.PublicKey != "nested-pbk" {
		t.Errorf("PublicKey = %s, want nested-pbk", lc.PublicKey)
	}
	if lc.Fingerprint != "chrome" {
		t.Errorf("Fingerprint = %s, want chrome", lc.Fingerprint)
	}

	// a second call with an unchanged panel returns identical metadata
	again, err := client.DescribeListener(ctx, ListenerRef{ID: 1})
	if err != nil {
		t.Fatalf("DescribeListener(1) again: %v", err)
	}
	if !reflect.DeepEqual(lc, again) {
		t.Errorf("repeated describe differs:\n  first:  %+v\n  second: %+v", lc, again)
	}

	lc, err = client.DescribeListener(ctx, ListenerRef{ID: 2})
	if err != nil {
		t.Fatalf("DescribeListener(2): %v", err)
	}
	if lc.Path != "/tunnel" || lc.Host != "ws.example.org" {
		t.Errorf("ws listener path/host = %s/%s", lc.Path, lc.Host)
	}

	_, err = client.DescribeListener(ctx, ListenerRef{ID: 99})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("DescribeListener(99) = %v, want ErrNotFound", err)
	}
}

func TestXUIReauthenticatesOn401(t *testing.T) {
	fake := &fakeXUIPanel{
		failFirstList: true,
		inbounds: []map[string]interface{}{
			{"id": 1, "remark": "Main", "port": 443, "streamSettings": `{"network":"tcp","security":"none"}`},
		},
	}
	client, _ := newXUITestClient(t, fake)

	if _, err := client.DescribeListener(context.Background(), ListenerRef{ID: 1}); err != nil {
		t.Fatalf("DescribeListener after 401: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.loginCount != 2 {
		t.Errorf("loginCount = %d, want 2 (lazy auth plus re-auth after 401)", fake.loginCount)
	}
	if fake.listCount != 2 {
		t.Errorf("listCount = %d, want 2 (rejected call plus retry)", fake.listCount)
	}
}

func TestXUIProvisionClient(t *testing.T) {
	fake := &fakeXUIPanel{
		restartFails: true, // restart failure must not fail provisioning
		inbounds: []map[string]interface{}{
			{
				"id":     3,
				"remark": "Reality",
				"port":   443,
				"streamSettings": streamSettingsJSON(t, map[string]interface{}{
					"network":  "tcp",
					"security": "reality",
					"realitySettings": map[string]interface{}{
						"serverNames": []string{"cdn.example.org"},
						"publicKey":   "pbk123",
						"fingerprint": "chrome",
					},
				}),
			},
		},
	}
	client, _ := newXUITestClient(t, fake)

	before := time.Now()
	cred, err := client.ProvisionClient(context.Background(), ProvisionRequest{
		Listener:    ListenerRef{ID: 3},
		Label:       "john_1700000000",
		DeviceLimit: 2,
		TrafficGB:   5,
		Validity:    30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("ProvisionClient: %v", err)
	}

	fake.mu.Lock()
	form := fake.addClientForm
	restarts := fake.restartCount
	fake.mu.Unlock()

	if form == nil {
		t.Fatal("addClient was never called")
	}
	if got := form["id"]; len(got) != 1 || got[0] != "3" {
		t.Errorf("form id = %v, want [3]", got)
	}

	var settings struct {
		Clients []struct {
			ID         string `json:"id"`
			Email      string `json:"email"`
			LimitIP    int    `json:"limitIp"`
			TotalGB    int64  `json:"totalGB"`
			ExpiryTime int64  `json:"expiryTime"`
			Enable     bool   `json:"enable"`
			SubID      string `json:"subId"`
		} `json:"clients"`
	}
	if err := json.Unmarshal([]byte(form["settings"][0]), &settings); err != nil {
		t.Fatalf("decode settings form field: %v", err)
	}
	if len(settings.Clients) != 1 {
		t.Fatalf("expected 1 client in settings, got %d", len(settings.Clients))
	}
	c := settings.Clients[0]

	if _, err := uuid.Parse(c.ID); err != nil {
		t.Errorf("client id %q is not a UUID: %v", c.ID, err)
	}
	if c.Email != "john_1700000000" || c.SubID != "john_1700000000" {
		t.Errorf("email/subId = %s/%s, want the label in both", c.Email, c.SubID)
	}
	if c.LimitIP != 2 {
		t.Errorf("limitIp = %d, want 2", c.LimitIP)
	}
	if want := int64(5) << 30; c.TotalGB != want {
		t.Errorf("totalGB = %d, want %d", c.TotalGB, want)
	}
	if !c.Enable {
		t.Error("client not enabled")
	}

	wantExpiry := before.Add(30 * 24 * time.Hour).UnixMilli()
	if diff := c.ExpiryTime - wantExpiry; diff < 0 || diff > 5000 {
		t.Errorf("expiryTime = %d, want within 5s after %d", c.ExpiryTime, wantExpiry)
	}

	wantURI := fmt.Sprintf(
		"vless://%s@vpn.example.com:443?type=tcp&security=reality&sni=cdn.example.org&pbk=pbk123&fp=chrome&encryption=none#john_1700000000",
		c.ID)
	if cred.ConnectionURI != wantURI {
		t.Errorf("ConnectionURI =\n  %s\nwant\n  %s", cred.ConnectionURI, wantURI)
	}
	if want := "https://vpn.example.com:2053/sub/john_1700000000"; cred.SubscriptionURL != want {
		t.Errorf("SubscriptionURL = %s, want %s", cred.SubscriptionURL, want)
	}
	if cred.ClientID != c.ID {
		t.Errorf("credential ClientID %s does not match provisioned id %s", cred.ClientID, c.ID)
	}

	// device limit set, so a restart was attempted even though it failed
	if restarts != 1 {
		t.Errorf("restartCount = %d, want 1", restarts)
	}
}

func TestXUIProvisionClientUnlimited(t *testing.T) {
	fake := &fakeXUIPanel{
		inbounds: []map[string]interface{}{
			{"id": 1, "remark": "Main", "port": 443, "streamSettings": `{"network":"tcp","security":"none"}`},
		},
	}
	client, _ := newXUITestClient(t, fake)

	_, err := client.ProvisionClient(context.Background(), ProvisionRequest{
		Listener: ListenerRef{ID: 1},
		Label:    "trial_user",
		Validity: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("ProvisionClient: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()

	var settings struct {
		Clients []struct {
			TotalGB int64 `json:"totalGB"`
			LimitIP int   `json:"limitIp"`
		} `json:"clients"`
	}
	if err := json.Unmarshal([]byte(fake.addClientForm["settings"][0]), &settings); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if settings.Clients[0].TotalGB != 0 {
		t.Errorf("totalGB = %d, want 0 for unlimited", settings.Clients[0].TotalGB)
	}
	// no device limit, no restart needed
	if fake.restartCount != 0 {
		t.Errorf("restartCount = %d, want 0", fake.restartCount)
	}
}

func TestXUIBuildConnectionURI(t *testing.T) {
	client := NewXUIClient(config.XUIPanelConfig{
		URL:        "https://panel.example.com",
		ServerHost: "vpn.example.com",
		SubPort:    2053,
	}, logger.GetLogger())

	tests := []struct {
		name     string
		listener ListenerConfig
		label    string
		want     string
	}{
		{
			name:     "plain tcp",
			listener: ListenerConfig{Port: 8443, Network: "tcp", Security: "none"},
			label:    "alice_1",
			want:     "vless://CID@vpn.example.com:8443?type=tcp&security=none&encryption=none#alice_1",
		},
		{
			name: "ws over tls",
			listener: ListenerConfig{
				Port: 443, Network: "ws", Security: "tls",
				SNI: "ws.example.org", Path: "/tunnel", Host: "ws.example.org",
			},
			label: "bob_2",
			want:  "vless://CID@vpn.example.com:443?type=ws&security=tls&sni=ws.example.org&path=%2Ftunnel&host=ws.example.org&encryption=none#bob_2",
		},
		{
			name: "grpc",
			listener: ListenerConfig{
				Port: 2096, Network: "grpc", Security: "tls",
				SNI: "grpc.example.org", ServiceName: "svc",
			},
			label: "carol_3",
			want:  "vless://CID@vpn.example.com:2096?type=grpc&security=tls&sni=grpc.example.org&serviceName=svc&encryption=none#carol_3",
		},
		{
			name:     "label escaping",
			listener: ListenerConfig{Port: 443, Network: "tcp", Security: "none"},
			label:    "user#1",
			want:     "vless://CID@vpn.example.com:443?type=tcp&security=none&encryption=none#user%231",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.buildConnectionURI(&tt.listener, "CID", tt.label)
			if got != tt.want {
				t.Errorf("buildConnectionURI =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

func TestTrafficLimitBytes(t *testing.T) {
	tests := []struct {
		gb   int
		want int64
	}{
		{0, 0},
		{-1, 0},
		{1, 1 << 30},
		{5, 5 << 30},
	}
	for _, tt := range tests {
		if got := TrafficLimitBytes(tt.gb); got != tt.want {
			t.Errorf("TrafficLimitBytes(%d) = %d, want %d", tt.gb, got, tt.want)
		}
	}
}

func TestBuildLabel(t *testing.T) {
	now := time.Unix(1700000000, 0)

	if got := BuildLabel("john", now); got != "john_1700000000" {
		t.Errorf("BuildLabel(john) = %s", got)
	}
	if got := BuildLabel("  John Doe ", now); got != "John_Doe_1700000000" {
		t.Errorf("BuildLabel with spaces = %s", got)
	}
	if strings.Contains(BuildLabel("a b c", now), " ") {
		t.Error("label must not contain spaces")
	}
}
