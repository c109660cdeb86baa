package store_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/brencher/release"
	"github.com/input-output-hk/brencher/store"
)

type mockS3 struct {
	objects map[string][]byte
	getErr  error
	putErr  error
	puts    []*s3.PutObjectInput
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	m.puts = append(m.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestS3BackendMissingObject(t *testing.T) {
	backend := store.NewS3Backend(&mockS3{}, "bucket", "")

	snap, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Releases)
}

func TestS3BackendNotFoundAPIError(t *testing.T) {
	client := &mockS3{getErr: &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}}
	backend := store.NewS3Backend(client, "bucket", "state.json")

	_, err := backend.Load(context.Background())
	require.NoError(t, err)
}

func TestS3BackendAccessDenied(t *testing.T) {
	client := &mockS3{getErr: &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}}
	backend := store.NewS3Backend(client, "bucket", "state.json")

	_, err := backend.Load(context.Background())
	assert.ErrorContains(t, err, "s3://bucket/state.json")
}

func TestS3BackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := &mockS3{}
	backend := store.NewS3Backend(client, "bucket", "brencher/state.json")

	s := open(t, backend)
	_, err := s.AddRelease(ctx, release.Release{Name: "r1", State: release.StateActive, Branches: []string{"main"}})
	require.NoError(t, err)

	require.Len(t, client.puts, 1)
	assert.Equal(t, "application/json", aws.ToString(client.puts[0].ContentType))
	assert.Equal(t, "brencher/state.json", aws.ToString(client.puts[0].Key))

	reopened := open(t, backend)
	got, ok := reopened.GetRelease("r1")
	require.True(t, ok)
	assert.Equal(t, []string{"main"}, got.Branches)
}

func TestNewS3BackendFromConfigRequiresBucket(t *testing.T) {
	_, err := store.NewS3BackendFromConfig(context.Background(), store.S3Config{})
	assert.Error(t, err)
}
