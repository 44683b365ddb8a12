package security

import (
	"fmt"
	"net"
	"strings"
)

// hostRules blocks hostnames and resolved IPs that reach internal
// infrastructure: loopback, private ranges, link-local (cloud metadata
// services live there), multicast, and unspecified addresses.
type hostRules struct {
	blockedNames map[string]bool
}

func defaultHostRules() *hostRules {
	return &hostRules{
		blockedNames: map[string]bool{
			"localhost":           true,
			"127.0.0.1":           true,
			"::1":                 true,
			"0.0.0.0":             true,
			"::":                  true,
			"::ffff:127.0.0.1":    true,
			"[::1]":               true,
			"[::ffff:127.0.0.1]":  true,
			"metadata.google.internal": true,
		},
	}
}

func (r *hostRules) validate(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}

	normalized := strings.ToLower(strings.TrimSpace(hostname))
	if r.blockedNames[normalized] {
		return fmt.Errorf("host %q is blocked: internal address", hostname)
	}

	// A literal IP needs no DNS round trip.
	if ip := net.ParseIP(normalized); ip != nil {
		return checkIP(ip)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable names pass: the request itself will fail, and
		// failing closed here would break on transient DNS trouble.
		return nil
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP rejects every address class that points inside the perimeter.
func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("IP %s is blocked: loopback address", ip)
	case ip.IsPrivate():
		return fmt.Errorf("IP %s is blocked: private network", ip)
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return fmt.Errorf("IP %s is blocked: link-local address", ip)
	case ip.IsMulticast():
		return fmt.Errorf("IP %s is blocked: multicast address", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("IP %s is blocked: unspecified address", ip)
	}
	return nil
}
