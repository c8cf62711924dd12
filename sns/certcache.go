package sns

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/url"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const certificateCacheKeyPrefix = "go-mailstatus::signing_cert::v1"

// CachedCertificateSource memoizes certificate public keys by signing
// URL. Caching is a latency optimization only: the underlying source is
// consulted on every miss and its failures pass through unchanged.
type CachedCertificateSource struct {
	base  CertificateSource
	cache repositorycache.CacheService
}

func NewCachedCertificateSource(
	base CertificateSource,
	cacheService repositorycache.CacheService,
) (*CachedCertificateSource, error) {
	if base == nil {
		return nil, fmt.Errorf("sns: base certificate source is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sns: certificate cache service is required")
	}
	return &CachedCertificateSource{base: base, cache: cacheService}, nil
}

// CertificateCacheKey returns the deterministic cache key contract for a
// signing certificate URL: go-mailstatus::signing_cert::v1::<escaped url>.
func CertificateCacheKey(certURL string) string {
	return certificateCacheKeyPrefix + "::" + url.PathEscape(certURL)
}

func (s *CachedCertificateSource) PublicKey(ctx context.Context, certURL string) (*rsa.PublicKey, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sns: cached certificate source is not configured")
	}
	if err := ValidateCertificateURL(certURL); err != nil {
		return nil, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, CertificateCacheKey(certURL), func(ctx context.Context) (*rsa.PublicKey, error) {
		return s.base.PublicKey(ctx, certURL)
	})
}

// Invalidate drops a cached key, e.g. after the provider rotates its
// signing certificate.
func (s *CachedCertificateSource) Invalidate(ctx context.Context, certURL string) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("sns: cached certificate source is not configured")
	}
	return s.cache.Delete(ctx, CertificateCacheKey(certURL))
}

var _ CertificateSource = (*CachedCertificateSource)(nil)
