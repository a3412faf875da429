// Package awsauth resolves object-store credentials and hands out reusable
// S3 clients. Resolution order, first match wins: explicit static keys (with
// optional session token), named profile, role assumption, ambient
// environment. Error text never includes secret material.
package awsauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/curlake/curlake/internal/queryerr"
	"github.com/curlake/curlake/internal/source"
)

const roleSessionName = "curlake-session"

// Provider builds and caches S3 clients per credential bundle. Safe for
// concurrent use; insertion is guarded by a mutex and clients are reused
// across callers.
type Provider struct {
	// EndpointOverride points the client at an S3-compatible store
	// (MinIO, LocalStack). Empty for real AWS.
	EndpointOverride string
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible stores.
	UsePathStyle bool
	Logger       *slog.Logger

	mu      sync.Mutex
	clients map[string]*s3.Client
}

// S3Client returns a client authenticated per the bundle's resolution order.
func (p *Provider) S3Client(ctx context.Context, creds source.Credentials, region string) (*s3.Client, error) {
	key := fingerprint(creds, region)

	p.mu.Lock()
	if client, ok := p.clients[key]; ok {
		p.mu.Unlock()
		return client, nil
	}
	p.mu.Unlock()

	warnIfExpiring(p.Logger, creds.Expiration)

	cfg, err := p.loadConfig(ctx, creds, region)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if p.EndpointOverride != "" {
			o.BaseEndpoint = aws.String(p.EndpointOverride)
		}
		if p.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	p.mu.Lock()
	if p.clients == nil {
		p.clients = make(map[string]*s3.Client)
	}
	// A concurrent caller may have built the same client; last write wins,
	// both are valid.
	p.clients[key] = client
	p.mu.Unlock()

	return client, nil
}

func (p *Provider) loadConfig(ctx context.Context, creds source.Credentials, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	switch {
	case creds.AccessKeyID != "" && creds.SecretAccessKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	case creds.Profile != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(creds.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, queryerr.New(queryerr.KindAccessDenied, "could not load object-store credentials")
	}

	// Role assumption applies only when no earlier method matched; the
	// role is assumed from the ambient chain.
	if creds.RoleARN != "" && creds.AccessKeyID == "" && creds.Profile == "" {
		stsClient := sts.NewFromConfig(cfg)
		assume := stscreds.NewAssumeRoleProvider(stsClient, creds.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = roleSessionName
			if creds.ExternalID != "" {
				o.ExternalID = aws.String(creds.ExternalID)
			}
		})
		cfg.Credentials = aws.NewCredentialsCache(assume)
	}

	return cfg, nil
}

// fingerprint hashes the bundle so the cache key never holds secret material
// in recoverable form.
func fingerprint(creds source.Credentials, region string) string {
	h := sha256.New()
	for _, part := range []string{
		creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken,
		creds.Profile, creds.RoleARN, creds.ExternalID, region,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// warnIfExpiring logs when temporary credentials are past or near their
// declared expiry. Never fatal; the store rejects expired credentials itself.
func warnIfExpiring(logger *slog.Logger, expiration string) {
	if expiration == "" || logger == nil {
		return
	}
	expiry, err := time.Parse(time.RFC3339, expiration)
	if err != nil {
		logger.Warn("unparseable credential expiration", slog.String("expiration", expiration))
		return
	}
	remaining := time.Until(expiry)
	switch {
	case remaining <= 0:
		logger.Warn("credentials are expired", slog.Time("expired_at", expiry))
	case remaining <= 15*time.Minute:
		logger.Warn("credentials expire soon", slog.Duration("remaining", remaining.Round(time.Minute)))
	}
}

// StorageCredentials resolves the bundle to concrete key material for
// engines that take raw S3 settings (the DuckDB httpfs path). The returned
// values are handed only to the engine, never logged.
func (p *Provider) StorageCredentials(ctx context.Context, creds source.Credentials, region string) (aws.Credentials, error) {
	cfg, err := p.loadConfig(ctx, creds, region)
	if err != nil {
		return aws.Credentials{}, err
	}
	resolved, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, queryerr.New(queryerr.KindAccessDenied, "could not resolve object-store credentials")
	}
	return resolved, nil
}
