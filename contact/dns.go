package contact

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
)

// DNSResolver looks up SRV records. *net.Resolver and *DNSSECResolver
// implement it.
type DNSResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVPaymail is the service label of _bsvalias._tcp.{domain}.
const SRVPaymail = "bsvalias"

// ResolveEndpoints returns host:port pairs for _service._tcp.domain ordered
// by priority, then descending weight.
func ResolveEndpoints(ctx context.Context, resolver DNSResolver, domain, service string) ([]string, error) {
	if domain == "" || service == "" {
		return nil, fmt.Errorf("%w: empty domain or service", ErrDNSLookupFailed)
	}
	_, addrs, err := resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		return nil, fmt.Errorf("%w: SRV _%s._tcp.%s: %w", ErrDNSLookupFailed, service, domain, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: _%s._tcp.%s", ErrNoEndpoints, service, domain)
	}

	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].Priority != addrs[j].Priority {
			return addrs[i].Priority < addrs[j].Priority
		}
		return addrs[i].Weight > addrs[j].Weight
	})

	endpoints := make([]string, len(addrs))
	for i, srv := range addrs {
		endpoints[i] = net.JoinHostPort(strings.TrimSuffix(srv.Target, "."), fmt.Sprint(srv.Port))
	}
	return endpoints, nil
}
