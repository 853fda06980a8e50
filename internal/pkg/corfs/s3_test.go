package corfs

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3 is an in-memory bucket store keyed by "bucket/key"
type mockS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (m *mockS3) list(bucket, prefix string) []*s3.Object {
	keys := make([]string, 0)
	for full := range m.objects {
		parts := strings.SplitN(full, "/", 2)
		if parts[0] == bucket && strings.HasPrefix(parts[1], prefix) {
			keys = append(keys, parts[1])
		}
	}
	sort.Strings(keys)

	objects := make([]*s3.Object, len(keys))
	for i, key := range keys {
		objects[i] = &s3.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(m.objects[bucket+"/"+key]))),
		}
	}
	return objects
}

func (m *mockS3) ListObjects(input *s3.ListObjectsInput) (*s3.ListObjectsOutput, error) {
	return &s3.ListObjectsOutput{Contents: m.list(*input.Bucket, aws.StringValue(input.Prefix))}, nil
}

func (m *mockS3) ListObjectsPages(input *s3.ListObjectsInput, fn func(*s3.ListObjectsOutput, bool) bool) error {
	fn(&s3.ListObjectsOutput{Contents: m.list(*input.Bucket, aws.StringValue(input.Prefix))}, true)
	return nil
}

func (m *mockS3) PutObject(input *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	data, err := ioutil.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*input.Bucket+"/"+*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[*input.Bucket+"/"+*input.Key]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", *input.Key)
	}
	var start, end int64
	fmt.Sscanf(aws.StringValue(input.Range), "bytes=%d-%d", &start, &end)
	return &s3.GetObjectOutput{
		Body: ioutil.NopCloser(bytes.NewReader(data[start : end+1])),
	}, nil
}

func (m *mockS3) DeleteObject(input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, *input.Bucket+"/"+*input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func writeS3(t *testing.T, fs *S3FileSystem, path, contents string) {
	t.Helper()
	writer, err := fs.OpenWriter(path)
	require.Nil(t, err)
	_, err = writer.Write([]byte(contents))
	require.Nil(t, err)
	require.Nil(t, writer.Close())
}

func TestS3ImplementsFileSystem(t *testing.T) {
	var fileSystem FileSystem = &S3FileSystem{}
	assert.NotNil(t, fileSystem)
}

func TestParseS3URI(t *testing.T) {
	parsed, err := parseS3URI("s3://annie-raw/raw/4314/RAWDataR4314S0p3")
	assert.Nil(t, err)
	assert.Equal(t, "annie-raw", parsed.Host)
	assert.Equal(t, "raw/4314/RAWDataR4314S0p3", parsed.Path)

	_, err = parseS3URI("/pnfs/annie/persistent/raw/raw/4314")
	assert.NotNil(t, err)
}

func TestS3MockReaderWriter(t *testing.T) {
	fs := &S3FileSystem{s3Client: newMockS3()}

	writeS3(t, fs, "s3://bucket/scripts/grid_job.sh", "foo bar baz")

	reader, err := fs.OpenReader("s3://bucket/scripts/grid_job.sh", 0)
	require.Nil(t, err)
	contents, err := ioutil.ReadAll(reader)
	assert.Nil(t, err)
	assert.Equal(t, "foo bar baz", string(contents))
	assert.Nil(t, reader.Close())

	reader, err = fs.OpenReader("s3://bucket/scripts/grid_job.sh", 4)
	require.Nil(t, err)
	contents, err = ioutil.ReadAll(reader)
	assert.Nil(t, err)
	assert.Equal(t, "bar baz", string(contents))
	assert.Nil(t, reader.Close())
}

func TestS3MockReaderChunks(t *testing.T) {
	mock := newMockS3()
	fs := &S3FileSystem{s3Client: mock}
	writeS3(t, fs, "s3://bucket/testobj", "foo bar baz")

	reader := &s3Reader{
		client:    mock,
		bucket:    "bucket",
		key:       "testobj",
		chunkSize: 3,
		totalSize: 11,
	}
	require.Nil(t, reader.loadNextChunk())

	// First chunk should advance reader offset by 3 bytes
	assert.Equal(t, int64(3), reader.offset)

	contents, err := ioutil.ReadAll(reader)
	assert.Nil(t, err)
	assert.Equal(t, "foo bar baz", string(contents))
	assert.Nil(t, reader.Close())
}

func TestS3MockListGlob(t *testing.T) {
	fs := &S3FileSystem{s3Client: newMockS3()}

	for i := 0; i < 3; i++ {
		writeS3(t, fs, fmt.Sprintf("s3://bucket/raw/4314/RAWDataR4314S0p%d", i), "data")
	}
	writeS3(t, fs, "s3://bucket/raw/4314/4314_beamdb", "beam")
	writeS3(t, fs, "s3://bucket/raw/4315/RAWDataR4315S0p0", "data")

	files, err := fs.ListFiles("s3://bucket/raw/4314/RAWData*")
	assert.Nil(t, err)
	assert.Len(t, files, 3)
	for _, file := range files {
		assert.True(t, strings.HasPrefix(file.Name, "s3://bucket/raw/4314/RAWDataR4314S0p"))
		assert.Equal(t, int64(4), file.Size)
	}

	files, err = fs.ListFiles("s3://bucket/raw/4314/")
	assert.Nil(t, err)
	assert.Len(t, files, 4)
}

func TestS3MockStatAndDelete(t *testing.T) {
	fs := &S3FileSystem{s3Client: newMockS3()}
	writeS3(t, fs, "s3://bucket/4314_beamdb", "foo bar baz")

	file, err := fs.Stat("s3://bucket/4314_beamdb")
	assert.Nil(t, err)
	assert.Equal(t, "s3://bucket/4314_beamdb", file.Name)
	assert.Equal(t, int64(11), file.Size)

	assert.Nil(t, fs.Delete("s3://bucket/4314_beamdb"))
	_, err = fs.Stat("s3://bucket/4314_beamdb")
	assert.NotNil(t, err)
}

func TestS3Join(t *testing.T) {
	fs := &S3FileSystem{}

	res := fs.Join("s3://foo", "bar", "baz")
	assert.Equal(t, "s3://foo/bar/baz", res)

	res = fs.Join("s3://foo/", "/bar", "baz/")
	assert.Equal(t, "s3://foo/bar/baz/", res)
}

func getS3TestBackend(t *testing.T) (string, *S3FileSystem) {
	t.Helper()

	bucket := os.Getenv("AWS_TEST_BUCKET")
	if bucket == "" {
		t.Skipf("No test bucket is set under $AWS_TEST_BUCKET")
	}

	backend := &S3FileSystem{}
	err := backend.Init()
	if err != nil {
		t.Fatalf("Could not initialize S3 filesystem: %s", err)
	}
	return fmt.Sprintf("s3://%s", bucket), backend
}

func TestS3ReaderWriter(t *testing.T) {
	bucket, backend := getS3TestBackend(t)

	path := bucket + "/gridsub-testobj"
	defer backend.Delete(path)

	writeS3(t, backend, path, "foo bar baz")

	reader, err := backend.OpenReader(path, 0)
	require.Nil(t, err)

	contents, err := ioutil.ReadAll(reader)
	assert.Nil(t, err)
	assert.Equal(t, "foo bar baz", string(contents))
	assert.Nil(t, reader.Close())
}
