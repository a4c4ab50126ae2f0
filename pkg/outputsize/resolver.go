package outputsize

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrUnsupportedLocation is returned for locations that are not s3:// URIs.
	ErrUnsupportedLocation = errors.New("unsupported output location")

	// ErrNotFound is returned when the output object does not exist.
	ErrNotFound = errors.New("output object not found")
)

// HeadObjectAPI is the subset of the S3 client the resolver needs.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Resolver resolves output sizes with HeadObject.
type Resolver struct {
	client HeadObjectAPI
}

// New builds a resolver backed by an S3 client.
func New(ctx context.Context, cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

// NewWithClient builds a resolver around an existing client.
func NewWithClient(client HeadObjectAPI) *Resolver {
	return &Resolver{client: client}
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}
	return awsCfg, nil
}

// ResolveSize returns the byte size of the object at location as a decimal
// string, the form run outputs store.
func (r *Resolver) ResolveSize(ctx context.Context, location string) (string, error) {
	bucket, key, err := ParseLocation(location)
	if err != nil {
		return "", err
	}

	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%s: %w", location, ErrNotFound)
		}
		return "", fmt.Errorf("head %s: %w", location, err)
	}
	return strconv.FormatInt(aws.ToInt64(out.ContentLength), 10), nil
}

// ParseLocation splits s3://bucket/key into bucket and key.
func ParseLocation(location string) (string, string, error) {
	location = strings.TrimSpace(location)
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrUnsupportedLocation, location, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedLocation, location)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q: bucket and key are required", ErrUnsupportedLocation, location)
	}
	return u.Host, key, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
