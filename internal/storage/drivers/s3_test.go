package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sashko-guz/ferry/internal/logger"
	"github.com/sashko-guz/ferry/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putErr   error
	batches  [][]string
	closed   int
	presigns []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if in.ContentLength == nil || *in.ContentLength != int64(len(data)) {
		return nil, errors.New("content length mismatch")
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

// DeleteObjects treats keys starting with "deny" as access denied, "gone" as
// missing and "lost" as not mentioned in the response.
func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	out := &s3.DeleteObjectsOutput{}
	var batch []string
	for _, obj := range in.Delete.Objects {
		key := aws.ToString(obj.Key)
		batch = append(batch, key)
		switch {
		case strings.HasPrefix(key, "deny"):
			out.Errors = append(out.Errors, types.Error{Key: obj.Key, Code: aws.String("AccessDenied"), Message: aws.String("no")})
		case strings.HasPrefix(key, "gone"):
			out.Errors = append(out.Errors, types.Error{Key: obj.Key, Code: aws.String(s3CodeNoSuchKey)})
		case strings.HasPrefix(key, "lost"):
		default:
			out.Deleted = append(out.Deleted, types.DeletedObject{Key: obj.Key})
		}
	}
	f.mu.Lock()
	f.batches = append(f.batches, batch)
	f.mu.Unlock()
	return out, nil
}

func (f *fakeS3) PresignPutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	key := aws.ToString(in.Key)
	f.mu.Lock()
	f.presigns = append(f.presigns, key)
	f.mu.Unlock()
	return &v4.PresignedHTTPRequest{
		URL:    "https://s3.example.com/" + aws.ToString(in.Bucket) + "/" + key + "?X-Amz-Signature=abc",
		Method: "PUT",
	}, nil
}

func (f *fakeS3) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func newTestS3(t *testing.T, fake *fakeS3) *S3 {
	t.Helper()
	cfg := storage.Config{
		Type:      storage.TypeS3,
		ServerURL: "https://cdn.example.com",
		Bucket:    "media",
		Prefix:    "uploads",
		KeyScheme: storage.SchemeRandom,
	}
	p, err := NewS3(cfg, logger.Discard(), WithClock(testClock))
	require.NoError(t, err)
	p.open = func(context.Context) (s3Session, error) { return fake, nil }
	return p
}

func TestS3UploadStreamSpoolsUnknownSize(t *testing.T) {
	fake := newFakeS3()
	p := newTestS3(t, fake)

	res, err := p.UploadStream(context.Background(), "photo.jpg", onlyReader{strings.NewReader("jpeg bytes")}, -1)
	require.NoError(t, err)

	assert.Equal(t, "photo.jpg", res.FileName)
	assert.Regexp(t, `^uploads/group0/[A-Z0-9]{2}/[A-Z0-9]{2}/[A-Z0-9]{2}/[0-9a-f]{24}\.jpg$`, res.FileKey)
	assert.Equal(t, "https://cdn.example.com/media/"+res.FileKey, res.FilePath)
	assert.Equal(t, []byte("jpeg bytes"), fake.objects[res.FileKey])
	assert.Equal(t, 1, fake.closed)
}

func TestS3UploadStreamSeekable(t *testing.T) {
	fake := newFakeS3()
	p := newTestS3(t, fake)

	res, err := p.UploadStream(context.Background(), "a.bin", bytes.NewReader([]byte{1, 2, 3}), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, fake.objects[res.FileKey])
}

func TestS3UploadErrorIsOpaque(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("operation error S3: PutObject, AccessDenied")
	p := newTestS3(t, fake)

	_, err := p.UploadStream(context.Background(), "a.pdf", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrBackendWrite)
	assert.NotContains(t, err.Error(), "AccessDenied")
	assert.Equal(t, 1, fake.closed)
}

func TestS3SessionFailure(t *testing.T) {
	p := newTestS3(t, newFakeS3())
	p.open = func(context.Context) (s3Session, error) { return nil, errors.New("no route") }

	_, err := p.UploadStream(context.Background(), "a.pdf", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, storage.ErrBackendWrite)

	_, err = p.IssueCredential(context.Background())
	assert.ErrorIs(t, err, storage.ErrCredentialIssuance)

	res := p.Delete(context.Background(), []string{"a", "b"})
	require.Len(t, res, 2)
	assert.ErrorIs(t, res[0].Err, storage.ErrBackendDelete)
	assert.ErrorIs(t, res[1].Err, storage.ErrBackendDelete)
}

func TestS3IssueCredential(t *testing.T) {
	fake := newFakeS3()
	p := newTestS3(t, fake)

	first, err := p.IssueCredential(context.Background())
	require.NoError(t, err)
	second, err := p.IssueCredential(context.Background())
	require.NoError(t, err)

	assert.Equal(t, storage.MethodPresignedURL, first.Method)
	assert.True(t, first.Direct())
	assert.Equal(t, testNow.Add(storage.CredentialTTL), first.ExpiresAt)
	assert.Equal(t, "media", first.Bucket)
	assert.Contains(t, first.ServerURL, first.FileKey)
	assert.Equal(t, storage.ComposeURL("https://cdn.example.com", "media", first.FileKey), first.FilePath)
	assert.NotEqual(t, first.FileKey, second.FileKey)
	assert.Equal(t, 2, fake.closed)
}

func TestS3DeleteOutcomes(t *testing.T) {
	fake := newFakeS3()
	p := newTestS3(t, fake)

	res := p.Delete(context.Background(), []string{"ok/1.pdf", "deny/2.pdf", "gone/3.pdf", "lost/4.pdf", "../bad"})

	require.Len(t, res, 5)
	assert.NoError(t, res[0].Err)
	assert.ErrorIs(t, res[1].Err, storage.ErrBackendDelete)
	assert.NoError(t, res[2].Err, "missing object counts as deleted")
	assert.ErrorIs(t, res[3].Err, storage.ErrBackendDelete, "unreported key fails")
	assert.ErrorIs(t, res[4].Err, storage.ErrInvalidKey)
	require.Len(t, fake.batches, 1)
	assert.Len(t, fake.batches[0], 4)
}

func TestS3DeleteSplitsBatches(t *testing.T) {
	fake := newFakeS3()
	p := newTestS3(t, fake)

	keys := make([]string, s3DeleteBatchMax+5)
	for i := range keys {
		keys[i] = fmt.Sprintf("k/%d.pdf", i)
	}
	res := p.Delete(context.Background(), keys)

	assert.True(t, res.OK())
	assert.Len(t, fake.batches, 2)
}
