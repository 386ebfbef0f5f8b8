/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config configures presigning of s3:// locators.
type S3Config struct {
	Region          string
	Endpoint        string // S3-compatible services (MinIO, Spaces, ...)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PresignTTL      time.Duration
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	MediaRoot string
	S3        S3Config
}

// Resolver turns segment media references into locators an Element can load.
//
//	relative/path.mp4      -> <MediaRoot>/relative/path.mp4
//	/abs/path.mp4          -> unchanged
//	file:///abs/path.mp4   -> /abs/path.mp4
//	http(s)://...          -> unchanged
//	s3://bucket/key        -> presigned GET URL
type Resolver struct {
	root      string
	presigner *s3.PresignClient
	ttl       time.Duration
	logger    zerolog.Logger
}

// NewResolver builds a resolver. S3 support is enabled when a region is set.
func NewResolver(ctx context.Context, cfg ResolverConfig, logger zerolog.Logger) (*Resolver, error) {
	r := &Resolver{
		root:   cfg.MediaRoot,
		ttl:    cfg.S3.PresignTTL,
		logger: logger.With().Str("component", "media-resolver").Logger(),
	}
	if r.ttl <= 0 {
		r.ttl = time.Hour
	}

	if cfg.S3.Region == "" {
		return r, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3.Region)}
	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3.UsePathStyle
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
	})
	r.presigner = s3.NewPresignClient(client)

	r.logger.Info().Str("region", cfg.S3.Region).Str("endpoint", cfg.S3.Endpoint).Msg("s3 locators enabled")
	return r, nil
}

// Resolve maps ref to a loadable locator.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	loc, _, err := r.ResolveWithExpiry(ctx, ref)
	return loc, err
}

// ResolveWithExpiry maps ref to a loadable locator and reports when it stops
// working. Only presigned s3 locators expire; others return a zero time.
func (r *Resolver) ResolveWithExpiry(ctx context.Context, ref string) (string, time.Time, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty reference", ErrUnsupportedLocator)
	}

	scheme, rest, hasScheme := strings.Cut(ref, "://")
	if !hasScheme {
		if filepath.IsAbs(ref) || r.root == "" {
			return ref, time.Time{}, nil
		}
		return filepath.Join(r.root, filepath.Clean("/"+ref)), time.Time{}, nil
	}

	switch strings.ToLower(scheme) {
	case "http", "https":
		return ref, time.Time{}, nil
	case "file":
		u, err := url.Parse(ref)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("parse file locator: %w", err)
		}
		return u.Path, time.Time{}, nil
	case "s3":
		return r.presign(ctx, rest)
	default:
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrUnsupportedLocator, scheme)
	}
}

func (r *Resolver) presign(ctx context.Context, bucketKey string) (string, time.Time, error) {
	if r.presigner == nil {
		return "", time.Time{}, fmt.Errorf("%w: s3 is not configured", ErrUnsupportedLocator)
	}
	bucket, key, ok := strings.Cut(bucketKey, "/")
	if !ok || bucket == "" || key == "" {
		return "", time.Time{}, fmt.Errorf("%w: malformed s3 locator %q", ErrUnsupportedLocator, bucketKey)
	}

	signedAt := time.Now()
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, signedAt.Add(r.ttl), nil
}
