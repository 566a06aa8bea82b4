package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/fms-backend/internal/config"
)

func TestLocalSaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)

	path, err := l.Save(context.Background(), "logos/alice@example.com_logo.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logos", "alice@example.com_logo.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	rc, err := l.Open(context.Background(), "logos/alice@example.com_logo.png")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(got))
}

func TestLocalSaveOverwrites(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = l.Save(context.Background(), "a.txt", strings.NewReader("first"))
	require.NoError(t, err)
	path, err := l.Save(context.Background(), "a.txt", strings.NewReader("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocalOpenMissing(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = l.Open(context.Background(), "logos/missing.png")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "..", "../secret", "logos/../../secret", "/etc/passwd"} {
		_, err := l.Save(context.Background(), key, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidKey, "key=%q", key)
		_, err = l.Open(context.Background(), key)
		assert.ErrorIs(t, err, ErrInvalidKey, "key=%q", key)
	}
}

func TestNewSelectsLocal(t *testing.T) {
	cfg := &config.Config{Storage: "local", UploadDir: t.TempDir()}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)
}

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func TestS3SaveAndOpen(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}}
	s := newS3WithClient(fake, "bucket", "fms/")

	location, err := s.Save(context.Background(), "logos/a_logo.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/fms/logos/a_logo.png", location)
	assert.Contains(t, fake.objects, "bucket/fms/logos/a_logo.png")

	rc, err := s.Open(context.Background(), "logos/a_logo.png")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(got))
}

func TestS3OpenMissing(t *testing.T) {
	s := newS3WithClient(&fakeObjects{objects: map[string][]byte{}}, "bucket", "")

	_, err := s.Open(context.Background(), "logos/none.png")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestS3RejectsInvalidKeys(t *testing.T) {
	s := newS3WithClient(&fakeObjects{objects: map[string][]byte{}}, "bucket", "")

	_, err := s.Save(context.Background(), "../x", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = s.Open(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Configuration{Region: "ap-northeast-1"})
	assert.Error(t, err)
}
