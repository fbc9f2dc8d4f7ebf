package objstore

import (
	"fmt"
	"net/url"
	"strings"
)

// ProviderConfig describes how to reach one S3-compatible object-store
// deployment: default endpoint, addressing style, and region handling.
// Ceph RGW clusters are the primary deployment target, but the facade
// speaks the same S3 API to any provider in this table.
type ProviderConfig struct {
	Name              string
	DefaultEndpoint   string
	RequiresRegion    bool
	RequiresPathStyle bool
	DefaultRegion     string
	EndpointTemplate  string // fmt template taking the region, when the endpoint is region-specific
}

// KnownProviders holds the addressing quirks of S3-compatible stores seen
// in front of a Ceph cluster or standing in for one in development.
var KnownProviders = map[string]ProviderConfig{
	"cephrgw": {
		Name:              "Ceph RGW",
		RequiresRegion:    false,
		RequiresPathStyle: true,
		DefaultRegion:     "default",
	},
	"aws": {
		Name:              "AWS S3",
		DefaultEndpoint:   "https://s3.amazonaws.com",
		RequiresRegion:    true,
		RequiresPathStyle: false,
		DefaultRegion:     "us-east-1",
	},
	"minio": {
		Name:              "MinIO",
		DefaultEndpoint:   "http://localhost:9000",
		RequiresRegion:    false,
		RequiresPathStyle: true,
		DefaultRegion:     "us-east-1",
	},
	"garage": {
		Name:              "Garage",
		DefaultEndpoint:   "http://localhost:3900",
		RequiresRegion:    true,
		RequiresPathStyle: true,
		DefaultRegion:     "garage",
	},
}

// GetProviderConfig looks up a provider by name, case-insensitively.
func GetProviderConfig(provider string) (ProviderConfig, error) {
	if provider == "" {
		return ProviderConfig{}, fmt.Errorf("objstore: provider name is required")
	}
	cfg, ok := KnownProviders[strings.ToLower(provider)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("objstore: unknown provider %q (supported: %s)", provider, strings.Join(providerNames(), ", "))
	}
	return cfg, nil
}

// ResolveEndpoint fills in endpoint and region from provider defaults when
// either is left blank, and normalizes the endpoint's scheme.
func ResolveEndpoint(provider, endpoint, region string) (string, string, error) {
	cfg, err := GetProviderConfig(provider)
	if err != nil {
		return "", "", err
	}
	if endpoint == "" {
		if cfg.EndpointTemplate != "" && region != "" {
			endpoint = fmt.Sprintf(cfg.EndpointTemplate, region)
		} else {
			endpoint = cfg.DefaultEndpoint
		}
	}
	endpoint = normalizeEndpoint(endpoint)
	if region == "" && cfg.DefaultRegion != "" {
		region = cfg.DefaultRegion
	}
	return endpoint, region, nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

// ValidateEndpoint rejects an endpoint with no scheme or no host.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("objstore: invalid endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("objstore: endpoint must use http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("objstore: endpoint must include a hostname")
	}
	return nil
}

// RequiresPathStyleAddressing reports whether provider needs path-style
// bucket addressing, which RGW and most self-hosted stores do.
func RequiresPathStyleAddressing(provider string) bool {
	cfg, err := GetProviderConfig(provider)
	if err != nil {
		return true
	}
	return cfg.RequiresPathStyle
}

func providerNames() []string {
	names := make([]string, 0, len(KnownProviders))
	for name := range KnownProviders {
		names = append(names, name)
	}
	return names
}
