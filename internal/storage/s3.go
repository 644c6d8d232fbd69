package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"attache/internal/attache"
)

// S3API is the part of the S3 client the provider uses.
type S3API interface {
	manager.UploadAPIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Options configures S3Provider.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string // optional custom endpoint (MinIO, LocalStack, ...)
	Prefix          string // optional key prefix
	BaseURL         string // optional public URL prefix, e.g. a CDN
	AccessKeyID     string // optional static credentials
	SecretAccessKey string
}

// S3Provider stores files as S3 objects keyed by prefix + storage path.
type S3Provider struct {
	client   S3API
	uploader *manager.Uploader
	opts     S3Options
}

// NewS3Provider loads the AWS configuration and creates a provider.
func NewS3Provider(ctx context.Context, opts S3Options) (*S3Provider, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", attache.ErrConfig)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if opts.Region == "" {
		opts.Region = awsCfg.Region
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})

	return NewS3ProviderWithClient(client, opts), nil
}

// NewS3ProviderWithClient creates a provider around an existing client.
func NewS3ProviderWithClient(client S3API, opts S3Options) *S3Provider {
	return &S3Provider{
		client:   client,
		uploader: manager.NewUploader(client),
		opts:     opts,
	}
}

// Key returns the object key of a storage path. A prefix is joined to the
// path with a single "/".
func (p *S3Provider) Key(storagePath string) string {
	key := strings.TrimLeft(storagePath, "/")
	prefix := strings.Trim(p.opts.Prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// URL returns the public URL of a storage path.
func (p *S3Provider) URL(storagePath string) string {
	key := p.Key(storagePath)
	switch {
	case p.opts.BaseURL != "":
		return strings.TrimRight(p.opts.BaseURL, "/") + "/" + key
	case p.opts.Endpoint != "":
		return strings.TrimRight(p.opts.Endpoint, "/") + "/" + p.opts.Bucket + "/" + key
	case p.opts.Region != "":
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.opts.Bucket, p.opts.Region, key)
	default:
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", p.opts.Bucket, key)
	}
}

// CreateOrReplace uploads req.Filename. Objects are overwritten in place.
func (p *S3Provider) CreateOrReplace(ctx context.Context, req *attache.PersistRequest) (*attache.PersistResult, error) {
	mtype, err := mimetype.DetectFile(req.Filename)
	if err != nil {
		return nil, fmt.Errorf("detecting content type: %w", err)
	}

	f, err := os.Open(req.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", req.Filename, err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.opts.Bucket),
		Key:         aws.String(p.Key(req.Path)),
		Body:        f,
		ContentType: aws.String(mtype.String()),
		Metadata: map[string]string{
			"property": req.Property,
			"style":    req.Style,
		},
	}
	if req.Record != nil {
		input.Metadata["record"] = req.Record.ID
	}

	if _, err := p.uploader.Upload(ctx, input); err != nil {
		return nil, fmt.Errorf("s3 upload failed for %s: %w", p.Key(req.Path), err)
	}

	return &attache.PersistResult{DefaultURL: p.URL(req.Path), MIME: mtype.String()}, nil
}

// ValidateSetup checks that the bucket is reachable.
func (p *S3Provider) ValidateSetup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.opts.Bucket)})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", p.opts.Bucket, err)
	}
	return nil
}

var (
	_ attache.Provider       = (*S3Provider)(nil)
	_ attache.SetupValidator = (*S3Provider)(nil)
)
