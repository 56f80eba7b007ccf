// Package discovery drives LAN peer discovery over mDNS: it publishes
// this node's service descriptor (Registrar) and translates browse
// events from the fabric into LWW-Map mutations (Adapter).
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mcastellin/whispers/internal/node"
)

// ServiceType is the fixed DNS-SD service type advertised and browsed
// by every whispers node, per spec §6. zeroconf's Register/Browse take
// the domain as a separate argument (see ServiceDomain), so this must
// be the bare "_service._proto" string, not the original's single
// "_whispers._tcp.local." convention.
const ServiceType = "_whispers._tcp"

// ServiceDomain is the mDNS domain used for registration and browsing.
const ServiceDomain = "local."

// TXT property keys carried in the mDNS service record.
const (
	propNodeID   = "node.id"
	propNodeIP   = "node.ip"
	propNodePort = "node.port"
	propNodeAddr = "node.address"
)

// Descriptor is this node's published service record: instance name,
// host, and TXT properties, computed once at bootstrap.
type Descriptor struct {
	ID   node.ID
	IP   net.IP
	Port uint16
}

// Host returns the mDNS host name, "<id>.local.".
func (d Descriptor) Host() string {
	return fmt.Sprintf("%s.local.", d.ID)
}

// TXT renders the descriptor's properties as "key=value" strings, the
// shape zeroconf.Register expects.
func (d Descriptor) TXT() []string {
	addr := net.JoinHostPort(d.IP.String(), strconv.Itoa(int(d.Port)))
	return []string{
		txtEntry(propNodeID, string(d.ID)),
		txtEntry(propNodeIP, d.IP.String()),
		txtEntry(propNodePort, strconv.Itoa(int(d.Port))),
		txtEntry(propNodeAddr, addr),
	}
}

func txtEntry(key, value string) string {
	return key + "=" + value
}

// parseTXT extracts the "node.id"/"node.ip"/"node.port" properties
// from a raw TXT record slice, returning an error if "node.id" or
// "node.port" is missing or malformed. A missing or malformed
// "node.ip" is not itself an error: ip comes back nil, and the caller
// falls back to the entry's resolved A record (entry.AddrIPv4).
func parseTXT(txt []string) (id node.ID, ip net.IP, port uint16, err error) {
	props := map[string]string{}
	for _, entry := range txt {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		props[key] = value
	}

	rawID, ok := props[propNodeID]
	if !ok || rawID == "" {
		return "", nil, 0, fmt.Errorf("discovery: missing %s property", propNodeID)
	}

	if rawIP, ok := props[propNodeIP]; ok {
		if parsedIP := net.ParseIP(rawIP).To4(); parsedIP != nil {
			ip = parsedIP
		}
	}

	rawPort, ok := props[propNodePort]
	if !ok {
		return "", nil, 0, fmt.Errorf("discovery: missing %s property", propNodePort)
	}
	parsedPort, err := strconv.ParseUint(rawPort, 10, 16)
	if err != nil {
		return "", nil, 0, fmt.Errorf("discovery: %s is not a valid port: %q", propNodePort, rawPort)
	}

	return node.ID(rawID), ip, uint16(parsedPort), nil
}
