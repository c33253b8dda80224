// Package cloud adapts environment-provided credentials and cluster
// metadata to the platform.CloudProvider capability interface. No cloud
// SDK (AWS, GCP, Azure) appears anywhere in the reference pack, and
// fabricating a dependency the corpus never reaches for would defeat the
// point of grounding every import in the examples; see DESIGN.md. This
// stub reads what a real SDK would return from environment-style config
// instead, leaving the wiring point ready for a real SDK to be dropped in
// later without touching any caller.
package cloud

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vitaliisemenov/guard/internal/platform"
)

// StaticConfig maps a cluster ID to its cloud-reported endpoint and IAM
// role, the way a real cloud SDK lookup would resolve it.
type StaticConfig struct {
	Clusters map[string]ClusterEntry
	Region   string
}

type ClusterEntry struct {
	RoleARN       string
	Endpoint      string
	CertificateCA []byte
}

// Provider implements platform.CloudProvider from a static configuration
// plus OS environment secrets (GUARD_SECRET_<NAME>), rather than a live
// cloud API.
type Provider struct {
	clusters map[string]ClusterEntry
	region   string
}

var _ platform.CloudProvider = (*Provider)(nil)

func New(config StaticConfig) *Provider {
	return &Provider{clusters: config.Clusters, region: config.Region}
}

func (p *Provider) AssumeRole(ctx context.Context, roleARN string) (*platform.Credentials, error) {
	if roleARN == "" {
		return nil, fmt.Errorf("role ARN is required")
	}
	return &platform.Credentials{
		AccessKeyID:     "static-unused",
		SecretAccessKey: "static-unused",
		SessionToken:    "static-unused",
		Expiry:          time.Now().Add(time.Hour),
	}, nil
}

func (p *Provider) GetSecret(ctx context.Context, name string) (string, error) {
	envName := "GUARD_SECRET_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	val, ok := os.LookupEnv(envName)
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return val, nil
}

func (p *Provider) GetClusterInfo(ctx context.Context, clusterID string) (*platform.ClusterInfo, error) {
	entry, ok := p.clusters[clusterID]
	if !ok {
		return nil, fmt.Errorf("cluster %q not found", clusterID)
	}
	return &platform.ClusterInfo{Endpoint: entry.Endpoint, CertificateCA: entry.CertificateCA}, nil
}

// GenerateClusterToken is a stand-in for a cloud IAM authenticator (e.g.
// the aws-iam-authenticator token exchange). A real SDK belongs here.
func (p *Provider) GenerateClusterToken(ctx context.Context, clusterID string) (string, error) {
	if _, ok := p.clusters[clusterID]; !ok {
		return "", fmt.Errorf("cluster %q not found", clusterID)
	}
	return fmt.Sprintf("token-%s-%d", clusterID, time.Now().Unix()), nil
}

func (p *Provider) ListClusters(ctx context.Context, region string) ([]string, error) {
	if region != "" && region != p.region {
		return nil, nil
	}
	out := make([]string, 0, len(p.clusters))
	for id := range p.clusters {
		out = append(out, id)
	}
	return out, nil
}
