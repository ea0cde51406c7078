package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const ptrTimeout = 2 * time.Second

// Resolver is the reverse lookup part of *net.Resolver
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// PTRSource resolves the reverse DNS name of an IP
type PTRSource struct {
	resolver Resolver
	timeout  time.Duration
}

// NewPTRSource creates a PTR source; nil uses net.DefaultResolver
func NewPTRSource(resolver Resolver) *PTRSource {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &PTRSource{resolver: resolver, timeout: ptrTimeout}
}

// Lookup returns the first PTR name without its trailing dot
func (s *PTRSource) Lookup(ctx context.Context, ip string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	names, err := s.resolver.LookupAddr(ctx, ip)
	if err != nil {
		return "", fmt.Errorf("reverse lookup failed: %w", err)
	}

	for _, name := range names {
		if name = strings.TrimSuffix(strings.TrimSpace(name), "."); name != "" {
			return name, nil
		}
	}
	return "", errors.New("no PTR record")
}
