package rendercache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Remote.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Remote mirrors rendered wallpapers into an S3 bucket so machines
// sharing a bucket render each image only once.
type S3Remote struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Remote wraps an existing client.
func NewS3Remote(client S3API, bucket, prefix string) *S3Remote {
	return &S3Remote{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// NewS3RemoteFromEnv builds a client from the default AWS configuration chain.
func NewS3RemoteFromEnv(ctx context.Context, bucket, prefix, region string) (*S3Remote, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3Remote(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// objectKey escapes key a second time so its '%' sequences reach S3 intact.
func (r *S3Remote) objectKey(key string) string {
	return path.Join(r.prefix, url.PathEscape(key)+".png")
}

func (r *S3Remote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("failed to get s3 object: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read s3 object: %w", err)
	}
	return body, false, nil
}

func (r *S3Remote) Put(ctx context.Context, key string, body []byte) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(r.objectKey(key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("image/png"),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3 object: %w", err)
	}
	return nil
}
