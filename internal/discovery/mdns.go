// Package discovery advertises the broker's listeners over mDNS/DNS-SD so
// LAN-local clients can find it without a preconfigured address.
// Advertisement is best-effort: failures are logged and never prevent the
// broker from serving clients.
package discovery

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType = "_mqtt._tcp"
	domain      = "local."
)

// Advertiser owns the lifecycle of one mDNS registration.
type Advertiser struct {
	server *zeroconf.Server
}

// Options describes what to advertise about the broker.
type Options struct {
	TCPPort     int
	WSPort      int // 0 if the WebSocket listener is disabled.
	MaxClients  int
	InstanceTag string // e.g. hostname; used to build the instance name.
}

// Start registers an mDNS service for the broker's TCP listener, with TXT
// records describing the WebSocket port (when enabled) and client
// capacity.
func Start(opts Options) (*Advertiser, error) {
	if opts.TCPPort <= 0 {
		return nil, fmt.Errorf("discovery: invalid tcp port %d", opts.TCPPort)
	}

	hostname := opts.InstanceTag
	if hostname == "" {
		var err error
		hostname, err = os.Hostname()
		if err != nil || hostname == "" {
			hostname = "mqtt-broker"
		}
	}

	instance := sanitizeInstance(fmt.Sprintf("MQTT Broker (%s)", hostname))

	txt := []string{
		fmt.Sprintf("mqtt_port=%d", opts.TCPPort),
		fmt.Sprintf("max_clients=%d", opts.MaxClients),
		"proto=mqtt-3.1.1",
	}
	if opts.WSPort > 0 {
		txt = append(txt, fmt.Sprintf("ws_port=%d", opts.WSPort))
	}

	server, err := zeroconf.Register(instance, serviceType, domain, opts.TCPPort, txt, nil)
	if err != nil {
		return nil, err
	}

	return &Advertiser{server: server}, nil
}

// Stop shuts down the mDNS registration. Safe to call on a nil Advertiser.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

func sanitizeInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, ".", " ")
	if cleaned == "" {
		cleaned = "MQTT Broker"
	}
	runes := []rune(cleaned)
	const maxLen = 63
	if len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}
