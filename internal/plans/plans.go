package plans

import (
	"fmt"
	"time"

	"vpn-shop-bot/internal/config"
)

// Protocol identifies the panel variant a plan provisions against
type Protocol string

const (
	ProtocolVLESS   Protocol = "vless"
	ProtocolOutline Protocol = "outline"
)

// Plan is a static catalog entry. Immutable after process start.
type Plan struct {
	Key         string
	Name        string
	Protocol    Protocol
	Price       string
	DeviceLimit int // concurrent IPs per key (VLESS plans)
	KeyCount    int // number of keys issued (Outline plans, 1 key = 1 device)
	Days        int
	TrafficGB   int // 0 = unlimited
	InboundID   int
}

// Validity returns the plan's validity as a duration
func (p *Plan) Validity() time.Duration {
	return time.Duration(p.Days) * 24 * time.Hour
}

// Label returns the plan's button label
func (p *Plan) Label() string {
	if p.Protocol == ProtocolOutline {
		unit := "keys"
		if p.KeyCount == 1 {
			unit = "key"
		}
		return fmt.Sprintf("%d %s = %s", p.KeyCount, unit, p.Price)
	}
	unit := "devices"
	if p.DeviceLimit == 1 {
		unit = "device"
	}
	return fmt.Sprintf("%d %s = %s", p.DeviceLimit, unit, p.Price)
}

// Catalog holds the plan list in display order with key lookup
type Catalog struct {
	plans []*Plan
	byKey map[string]*Plan
}

// NewCatalog builds the catalog from configuration. An empty plans list
// falls back to the built-in defaults.
func NewCatalog(cfg *config.Config) *Catalog {
	var list []*Plan

	if len(cfg.Plans) == 0 {
		list = defaultPlans()
	} else {
		for _, pc := range cfg.Plans {
			list = append(list, &Plan{
				Key:         pc.Key,
				Name:        pc.Name,
				Protocol:    Protocol(pc.Protocol),
				Price:       pc.Price,
				DeviceLimit: pc.DeviceLimit,
				KeyCount:    pc.KeyCount,
				Days:        pc.Days,
				TrafficGB:   pc.TrafficGB,
				InboundID:   pc.InboundID,
			})
		}
	}

	byKey := make(map[string]*Plan, len(list))
	for _, p := range list {
		if p.Protocol == ProtocolOutline && p.KeyCount == 0 {
			p.KeyCount = 1
		}
		if p.Protocol == ProtocolVLESS && p.KeyCount == 0 {
			p.KeyCount = 1
		}
		byKey[p.Key] = p
	}

	return &Catalog{plans: list, byKey: byKey}
}

// Get returns the plan for a key
func (c *Catalog) Get(key string) (*Plan, bool) {
	p, ok := c.byKey[key]
	return p, ok
}

// All returns all plans in display order
func (c *Catalog) All() []*Plan {
	return c.plans
}

// ByProtocol returns plans for one protocol in display order
func (c *Catalog) ByProtocol(proto Protocol) []*Plan {
	var result []*Plan
	for _, p := range c.plans {
		if p.Protocol == proto {
			result = append(result, p)
		}
	}
	return result
}

// defaultPlans reproduces the standard storefront catalog:
// three VLESS plans differing only in IP limit, and three Outline
// bundles where each key is limited to a single device.
func defaultPlans() []*Plan {
	return []*Plan{
		{Key: "vless_1", Name: "Basic Plan", Protocol: ProtocolVLESS, Price: "5000 ks", DeviceLimit: 1, KeyCount: 1, Days: 30, TrafficGB: 0, InboundID: 1},
		{Key: "vless_2", Name: "Silver Plan", Protocol: ProtocolVLESS, Price: "9450 ks", DeviceLimit: 2, KeyCount: 1, Days: 30, TrafficGB: 0, InboundID: 2},
		{Key: "vless_3", Name: "Golden Plan", Protocol: ProtocolVLESS, Price: "13850 ks", DeviceLimit: 3, KeyCount: 1, Days: 30, TrafficGB: 0, InboundID: 3},
		{Key: "outline_1", Name: "Outline 1 Key", Protocol: ProtocolOutline, Price: "5000 ks", DeviceLimit: 1, KeyCount: 1, Days: 30, TrafficGB: 0},
		{Key: "outline_2", Name: "Outline 2 Keys", Protocol: ProtocolOutline, Price: "9450 ks", DeviceLimit: 1, KeyCount: 2, Days: 30, TrafficGB: 0},
		{Key: "outline_3", Name: "Outline 3 Keys", Protocol: ProtocolOutline, Price: "13850 ks", DeviceLimit: 1, KeyCount: 3, Days: 30, TrafficGB: 0},
	}
}
