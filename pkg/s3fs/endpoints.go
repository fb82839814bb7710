package s3fs

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
)

// endpointConfigKey identifies one distinct endpoint configuration.
type endpointConfigKey struct {
	region            string
	scheme            string
	endpointOverride  string
	virtualAddressing bool
}

// endpointCacheEntry lazily builds the resolver exactly once.
type endpointCacheEntry struct {
	once     sync.Once
	resolver s3.EndpointResolverV2
}

// endpointCache shares one immutable endpoint resolver per distinct
// configuration. Building a resolver is measurably expensive; reusing
// one removes the cost from every client construction.
type endpointCache struct {
	mu      sync.Mutex
	entries map[endpointConfigKey]*endpointCacheEntry
}

var globalEndpointCache = &endpointCache{
	entries: make(map[endpointConfigKey]*endpointCacheEntry),
}

func (c *endpointCache) resolverFor(key endpointConfigKey) s3.EndpointResolverV2 {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &endpointCacheEntry{}
		c.entries[key] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.resolver = &frozenEndpointResolver{
			inner: s3.NewDefaultEndpointResolverV2(),
			key:   key,
		}
	})
	return entry.resolver
}

// frozenEndpointResolver pins the cached configuration onto every
// resolution request. Its state must not be mutated after construction:
// the same instance is shared by every client with the same key.
type frozenEndpointResolver struct {
	inner s3.EndpointResolverV2
	key   endpointConfigKey
}

func (r *frozenEndpointResolver) ResolveEndpoint(ctx context.Context, params s3.EndpointParameters) (smithyendpoints.Endpoint, error) {
	if r.key.region != "" {
		params.Region = aws.String(r.key.region)
	}
	if r.key.endpointOverride != "" {
		endpoint := r.key.scheme + "://" + r.key.endpointOverride
		params.Endpoint = aws.String(endpoint)
	}
	params.ForcePathStyle = aws.Bool(!r.key.virtualAddressing)
	return r.inner.ResolveEndpoint(ctx, params)
}
