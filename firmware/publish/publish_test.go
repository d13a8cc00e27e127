package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "hello_world.bin.signed")
	require.NoError(t, os.WriteFile(p, []byte("payload||signature"), 0o644))
	require.NoError(t, os.WriteFile(p+".json", []byte(`{"format":"payload+signature/v1"}`), 0o644))
	return p
}

func TestDirPublisher(t *testing.T) {
	src := writeArtifact(t, t.TempDir())
	outDir := filepath.Join(t.TempDir(), "www")

	p, err := NewDirPublisher(outDir)
	require.NoError(t, err)

	loc, err := p.Publish(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "hello_world.bin.signed"), loc)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "payload||signature", string(got))
	assert.FileExists(t, loc+".json")
}

func TestDirPublisherSameDir(t *testing.T) {
	dir := t.TempDir()
	src := writeArtifact(t, dir)

	p, err := NewDirPublisher(dir)
	require.NoError(t, err)

	loc, err := p.Publish(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, src, loc)
}

func TestDirPublisherMissingManifest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "fw.signed")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	p, err := NewDirPublisher(t.TempDir())
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), src)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	order   []string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	f.order = append(f.order, key)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Publisher(t *testing.T) {
	src := writeArtifact(t, t.TempDir())
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}

	p := NewS3PublisherWithClient(fake, "firmware", "esp32/v1")
	loc, err := p.Publish(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "s3://firmware/esp32/v1/hello_world.bin.signed", loc)

	assert.Equal(t, []string{
		"firmware/esp32/v1/hello_world.bin.signed",
		"firmware/esp32/v1/hello_world.bin.signed.json",
	}, fake.order)
	assert.Equal(t, "payload||signature", string(fake.objects["firmware/esp32/v1/hello_world.bin.signed"]))
	assert.Equal(t, "application/json", fake.types["firmware/esp32/v1/hello_world.bin.signed.json"])
}

func TestS3PublisherError(t *testing.T) {
	src := writeArtifact(t, t.TempDir())
	fake := &fakeS3{err: errors.New("access denied")}

	_, err := NewS3PublisherWithClient(fake, "firmware", "").Publish(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3PublisherRequiresBucket(t *testing.T) {
	_, err := NewS3Publisher(context.Background(), S3Config{})
	assert.Error(t, err)
}
