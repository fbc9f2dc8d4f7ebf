package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3BackendConfig configures the S3-backed Backend. Pool names map to S3
// bucket names one-to-one.
type S3BackendConfig struct {
	// Provider names an entry in KnownProviders used to fill in Endpoint,
	// Region, and path-style addressing when left blank. Defaults to
	// "cephrgw" when empty.
	Provider  string
	Region    string
	Endpoint  string // non-empty for non-AWS S3-compatible providers
	AccessKey string
	SecretKey string
}

// s3Backend implements Backend against an S3-compatible object store,
// using object user-metadata to carry extended attributes and a
// self-copy with a replaced metadata directive to mutate them without
// re-uploading object bodies.
type s3Backend struct {
	client *s3.Client
}

// NewS3Backend builds a PooledBackend backed by the AWS SDK v2 S3 client.
func NewS3Backend(ctx context.Context, cfg S3BackendConfig) (PooledBackend, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = "cephrgw"
	}
	endpoint, region, err := ResolveEndpoint(provider, cfg.Endpoint, cfg.Region)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		if err := ValidateEndpoint(endpoint); err != nil {
			return nil, err
		}
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = RequiresPathStyleAddressing(provider)
		})
	}

	return &s3Backend{client: s3.NewFromConfig(awsCfg, opts...)}, nil
}

// Close satisfies pool.Resource. The S3 SDK client holds no persistent
// connection of its own, so there is nothing to release.
func (b *s3Backend) Close() error { return nil }

func (b *s3Backend) Stat(ctx context.Context, pool, oid string) (Info, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(pool), Key: aws.String(oid)})
	if err != nil {
		if isNotFound(err) {
			return Info{}, ErrObjectNotFound
		}
		return Info{}, fmt.Errorf("head %s/%s: %w", pool, oid, err)
	}
	return Info{Size: aws.ToInt64(out.ContentLength), ModTime: aws.ToTime(out.LastModified)}, nil
}

func (b *s3Backend) GetXattr(ctx context.Context, pool, oid, key string) ([]byte, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(pool), Key: aws.String(oid)})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("head %s/%s: %w", pool, oid, err)
	}
	val, ok := out.Metadata[key]
	if !ok {
		return nil, ErrXattrNotSet
	}
	return []byte(val), nil
}

func (b *s3Backend) SetXattr(ctx context.Context, pool, oid, key string, value []byte, overwrite bool) error {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(pool), Key: aws.String(oid)})
	if err != nil {
		if isNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("head %s/%s: %w", pool, oid, err)
	}
	metadata := make(map[string]string, len(head.Metadata)+1)
	for k, v := range head.Metadata {
		metadata[k] = v
	}
	if _, exists := metadata[key]; exists && !overwrite {
		return ErrXattrExists
	}
	metadata[key] = string(value)

	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(pool),
		Key:               aws.String(oid),
		CopySource:        aws.String(pool + "/" + oid),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("set xattr %s on %s/%s: %w", key, pool, oid, err)
	}
	return nil
}

func (b *s3Backend) RemoveXattr(ctx context.Context, pool, oid, key string) error {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(pool), Key: aws.String(oid)})
	if err != nil {
		if isNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("head %s/%s: %w", pool, oid, err)
	}
	if _, exists := head.Metadata[key]; !exists {
		return nil
	}
	metadata := make(map[string]string, len(head.Metadata))
	for k, v := range head.Metadata {
		if k != key {
			metadata[k] = v
		}
	}
	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(pool),
		Key:               aws.String(oid),
		CopySource:        aws.String(pool + "/" + oid),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("remove xattr %s on %s/%s: %w", key, pool, oid, err)
	}
	return nil
}

func (b *s3Backend) ReadAt(ctx context.Context, pool, oid string, offset, length int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(pool),
		Key:    aws.String(oid),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		if isInvalidRange(err) {
			return nil, nil
		}
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("get %s/%s range %s: %w", pool, oid, rangeHeader, err)
	}
	defer out.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, out.Body); err != nil {
		return nil, fmt.Errorf("read body %s/%s: %w", pool, oid, err)
	}
	return buf.Bytes(), nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &notFound) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "StatusCode: 404")
}

func isInvalidRange(err error) bool {
	return strings.Contains(err.Error(), "InvalidRange")
}
