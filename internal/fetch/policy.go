package fetch

import (
	"context"
	"net"
	"net/url"
	"strings"
)

// privateRanges is the authoritative IPv4 deny table. It is a security
// boundary: do not extend or narrow it without flagging a behavior change.
var privateRanges = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("fetch: bad cidr " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// checkTarget validates one fetch target against the SSRF policy. It returns
// "" when the target is allowed, otherwise a reason beginning "blocked:".
// No connection is made before this check passes; DNS resolution happens
// here so redirect targets cannot smuggle in private addresses.
func (f *Fetcher) checkTarget(ctx context.Context, target *url.URL) string {
	if target.Scheme != "http" && target.Scheme != "https" {
		return "blocked: scheme " + target.Scheme
	}

	host := strings.ToLower(target.Hostname())
	if host == "" {
		return "blocked: empty host"
	}
	if host == "localhost" || host == "local" || strings.HasSuffix(host, ".local") {
		return "blocked: local hostname"
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	ips, err := f.resolver(ctx, host)
	if err != nil {
		return "blocked: dns resolution failed"
	}
	if len(ips) == 0 {
		return "blocked: dns returned no addresses"
	}
	for _, ip := range ips {
		if reason := checkIP(ip); reason != "" {
			return reason
		}
	}

	return ""
}

// checkIP rejects IPv6 wholesale (fail closed) and IPv4 addresses inside
// the deny table.
func checkIP(ip net.IP) string {
	v4 := ip.To4()
	if v4 == nil {
		return "blocked: ipv6 address"
	}
	for _, n := range privateRanges {
		if n.Contains(v4) {
			return "blocked: private address " + v4.String()
		}
	}
	return ""
}
