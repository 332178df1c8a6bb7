// Package s3 hosts the AWS S3 client used by the blob store. It mirrors the
// layering used across existing deployments: callers build the SDK client,
// pass it to New, and receive a typed interface exposing only the
// conditional object operations the store needs.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"goa.design/clue/health"
)

const (
	defaultOpTimeout = 10 * time.Second
	clientName       = "blob-s3"
)

// ErrPrecondition reports a failed conditional write: the object changed
// under the caller, or a create hit an existing object.
var ErrPrecondition = errors.New("precondition failed")

type (
	// Object is a fetched object with its version tag.
	Object struct {
		// Data is the object payload.
		Data []byte
		// ETag is the tag conditional writes must present.
		ETag string
	}

	// Client exposes the conditional object operations backing the blob
	// store.
	Client interface {
		health.Pinger

		// GetObject returns the object at key, or (nil, nil) when absent.
		GetObject(ctx context.Context, key string) (*Object, error)
		// CreateObject writes key only when no object exists, returning the
		// new ETag. Fails with ErrPrecondition when the key is taken.
		CreateObject(ctx context.Context, key string, data []byte) (string, error)
		// ReplaceObject writes key only when the stored ETag matches,
		// returning the new ETag. Fails with ErrPrecondition otherwise.
		ReplaceObject(ctx context.Context, key string, data []byte, etag string) (string, error)
	}

	// Options configures the S3 client.
	Options struct {
		// API is the AWS SDK S3 client. Required.
		API *awss3.Client
		// Bucket holds the objects. Required.
		Bucket string
		// Timeout bounds individual operations. Zero uses a default.
		Timeout time.Duration
	}
)

// api is the subset of the AWS SDK S3 client the wrapper uses.
type api interface {
	GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *awss3.HeadBucketInput, opts ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
}

type client struct {
	api     api
	bucket  string
	timeout time.Duration
}

// New returns a Client backed by S3.
func New(opts Options) (Client, error) {
	if opts.API == nil {
		return nil, errors.New("s3 client is required")
	}
	return newClientWithAPI(opts.API, opts.Bucket, opts.Timeout)
}

func newClientWithAPI(a api, bucket string, timeout time.Duration) (*client, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{api: a, bucket: bucket, timeout: timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err
}

func (c *client) GetObject(ctx context.Context, key string) (*Object, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAbsent(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %q: %w", key, err)
	}
	return &Object{Data: data, ETag: aws.ToString(out.ETag)}, nil
}

func (c *client) CreateObject(ctx context.Context, key string, data []byte) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isConditionFailure(err) {
			return "", ErrPrecondition
		}
		return "", fmt.Errorf("s3 create %q: %w", key, err)
	}
	return aws.ToString(out.ETag), nil
}

func (c *client) ReplaceObject(ctx context.Context, key string, data []byte, etag string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:  aws.String(c.bucket),
		Key:     aws.String(key),
		Body:    bytes.NewReader(data),
		IfMatch: aws.String(etag),
	})
	if err != nil {
		if isConditionFailure(err) || isAbsent(err) {
			return "", ErrPrecondition
		}
		return "", fmt.Errorf("s3 replace %q: %w", key, err)
	}
	return aws.ToString(out.ETag), nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// isConditionFailure reports whether err is S3 rejecting a conditional
// write. S3 answers 412 when the condition does not hold and 409 when a
// concurrent conditional write is in flight on the same key; both mean the
// caller lost the race.
func isConditionFailure(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func isAbsent(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
