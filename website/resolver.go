package website

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	extErrors "github.com/pkg/errors"
)

// Resolver checks whether a custom domain points to the publishing target
type Resolver interface {
	Resolves(ctx context.Context, domain string) (bool, error)
}

var _ Resolver = &DNSResolver{}

// DNSResolver verifies domains with live DNS lookups. A domain resolves when
// its CNAME is the target, or when it shares an address with the target.
type DNSResolver struct {
	target   string
	resolver *net.Resolver
}

// NewDNSResolver returns a DNSResolver for the given publishing target host
func NewDNSResolver(target string, resolver *net.Resolver) (*DNSResolver, error) {
	target = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(target)), ".")
	if target == "" {
		return nil, fmt.Errorf("empty target is invalid")
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &DNSResolver{
		target:   target,
		resolver: resolver,
	}, nil
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// Resolves reports whether domain points to the target
func (d *DNSResolver) Resolves(ctx context.Context, domain string) (bool, error) {
	cname, err := d.resolver.LookupCNAME(ctx, domain)
	if err != nil && !isNotFound(err) {
		return false, extErrors.Wrap(err, "Cannot lookup CNAME of domain")
	}
	if err == nil && strings.TrimSuffix(strings.ToLower(cname), ".") == d.target {
		return true, nil
	}

	addrs, err := d.resolver.LookupIPAddr(ctx, domain)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, extErrors.Wrap(err, "Cannot lookup addresses of domain")
	}
	targetAddrs, err := d.resolver.LookupIPAddr(ctx, d.target)
	if err != nil {
		return false, extErrors.Wrap(err, "Cannot lookup addresses of publishing target")
	}

	known := make(map[string]bool, len(targetAddrs))
	for _, addr := range targetAddrs {
		known[addr.IP.String()] = true
	}
	for _, addr := range addrs {
		if known[addr.IP.String()] {
			return true, nil
		}
	}
	return false, nil
}
