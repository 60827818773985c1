package master

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
)

// ParseURI validates that uri is parseable as http://host:port, the shape
// every master.uri Data Model entry requires.
func ParseURI(uri string) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("master: uri %q: %w", uri, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("master: uri %q: scheme must be http or https", uri)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("master: uri %q: missing host", uri)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("master: uri %q: missing port", uri)
	}
	return u, nil
}

// CanonicalizeURI resolves and sanity-checks uri's host:
//
//   - a localhost/loopback host is rewritten to the machine's canonical
//     address, so a master bound to "localhost" is still reachable from a
//     remote node started on another machine.
//   - any other host must resolve via DNS; an unresolvable host is a hard
//     error with an actionable message, since no node could ever reach it.
//   - a host that resolves but isn't one of this machine's own addresses is
//     left as-is (this machine is expected to be a remote node dialing
//     another host's master), logged as a warning so a typo'd hostname that
//     happens to resolve doesn't fail silently.
func CanonicalizeURI(uri string) (string, error) {
	u, err := ParseURI(uri)
	if err != nil {
		return "", err
	}

	host := u.Hostname()
	if isLoopbackHost(host) {
		canonical, err := localCanonicalAddress()
		if err != nil {
			return "", fmt.Errorf("master: uri %q: resolving canonical address for %s: %w", uri, host, err)
		}
		u.Host = net.JoinHostPort(canonical, u.Port())
		return u.String(), nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return "", fmt.Errorf("master: uri %q: host %q does not resolve: %w", uri, host, err)
	}
	if !hostResolvesLocally(addrs) {
		log.Printf("master: uri %q: host %q does not resolve to a local address, proceeding anyway", uri, host)
	}
	return uri, nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// localCanonicalAddress returns the machine's own hostname as the address
// other machines should use to dial back into it. Falls back to the first
// non-loopback interface address if the hostname itself doesn't resolve.
func localCanonicalAddress() (string, error) {
	host, err := os.Hostname()
	if err == nil {
		if _, lerr := net.LookupHost(host); lerr == nil {
			return host, nil
		}
	}

	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("enumerating local interfaces: %w", err)
	}
	for _, addr := range ifaceAddrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
			continue
		}
		return ipNet.IP.String(), nil
	}
	return "", fmt.Errorf("no non-loopback local address found")
}

// hostResolvesLocally reports whether any of addrs matches one of this
// machine's own interface addresses.
func hostResolvesLocally(addrs []string) bool {
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	local := make(map[string]bool, len(ifaceAddrs))
	for _, addr := range ifaceAddrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		local[ipNet.IP.String()] = true
	}
	for _, a := range addrs {
		if local[a] {
			return true
		}
	}
	return false
}
