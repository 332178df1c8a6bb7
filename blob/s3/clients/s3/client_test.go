package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"
)

// fakeAPI reproduces S3 conditional-write semantics in memory, answering
// with the same smithy error codes the service uses.
type fakeAPI struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	seq     int
	pingErr error
}

type fakeObject struct {
	data []byte
	etag string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string]fakeObject)}
}

func (f *fakeAPI) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "key not found"}
	}
	return &awss3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(obj.data)),
		ETag: aws.String(obj.etag),
	}, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	cur, exists := f.objects[key]
	switch {
	case in.IfNoneMatch != nil:
		if exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "object exists"}
		}
	case in.IfMatch != nil:
		if !exists {
			return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "key not found"}
		}
		if cur.etag != aws.ToString(in.IfMatch) {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "etag mismatch"}
		}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.seq++
	etag := fmt.Sprintf("%q", fmt.Sprintf("v%d", f.seq))
	f.objects[key] = fakeObject{data: data, etag: etag}
	return &awss3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeAPI) HeadBucket(_ context.Context, _ *awss3.HeadBucketInput, _ ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	if f.pingErr != nil {
		return nil, f.pingErr
	}
	return &awss3.HeadBucketOutput{}, nil
}

func newTestClient(t *testing.T) (*client, *fakeAPI) {
	t.Helper()
	api := newFakeAPI()
	c, err := newClientWithAPI(api, "state", 0)
	require.NoError(t, err)
	return c, api
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = newClientWithAPI(newFakeAPI(), "", 0)
	require.Error(t, err)
}

func TestGetObjectAbsentReturnsNil(t *testing.T) {
	c, _ := newTestClient(t)
	obj, err := c.GetObject(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, obj)
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	etag, err := c.CreateObject(ctx, "wf/wf-1", []byte(`{"rev":1}`))
	require.NoError(t, err)
	require.NotEmpty(t, etag)

	obj, err := c.GetObject(ctx, "wf/wf-1")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"rev":1}`), obj.Data)
	require.Equal(t, etag, obj.ETag)
}

func TestCreateExistingReportsPrecondition(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.CreateObject(ctx, "k", []byte("a"))
	require.NoError(t, err)

	_, err = c.CreateObject(ctx, "k", []byte("b"))
	require.ErrorIs(t, err, ErrPrecondition)
}

func TestReplaceChecksETag(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	etag1, err := c.CreateObject(ctx, "k", []byte("a"))
	require.NoError(t, err)

	etag2, err := c.ReplaceObject(ctx, "k", []byte("b"), etag1)
	require.NoError(t, err)
	require.NotEqual(t, etag1, etag2)

	_, err = c.ReplaceObject(ctx, "k", []byte("c"), etag1)
	require.ErrorIs(t, err, ErrPrecondition)

	// Replacing an absent object is a precondition failure too.
	_, err = c.ReplaceObject(ctx, "gone", []byte("x"), etag2)
	require.ErrorIs(t, err, ErrPrecondition)
}

func TestConditionalRequestConflictIsPrecondition(t *testing.T) {
	require.True(t, isConditionFailure(&smithy.GenericAPIError{Code: "ConditionalRequestConflict"}))
	require.False(t, isConditionFailure(&smithy.GenericAPIError{Code: "SlowDown"}))
	require.False(t, isConditionFailure(nil))
}

func TestPing(t *testing.T) {
	c, api := newTestClient(t)
	require.NoError(t, c.Ping(context.Background()))
	require.Equal(t, clientName, c.Name())

	api.pingErr = &smithy.GenericAPIError{Code: "AccessDenied"}
	require.Error(t, c.Ping(context.Background()))
}
