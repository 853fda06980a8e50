package corfs

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/mattetti/filebuffer"
)

// s3ReaderChunkSize is the size of each ranged GET issued by s3Reader
const s3ReaderChunkSize = 8 * 1024 * 1024

// S3FileSystem abstracts AWS S3 as a FileSystem.
// Paths take the form "s3://<bucket>/<key>".
type S3FileSystem struct {
	s3Client s3iface.S3API
}

func parseS3URI(uri string) (*url.URL, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "s3" {
		return nil, fmt.Errorf("invalid s3 scheme: '%s'", parsed.Scheme)
	}
	if strings.HasPrefix(parsed.Path, "/") {
		parsed.Path = parsed.Path[1:]
	}
	return parsed, nil
}

// ListFiles lists the objects matching pathGlob. Only the key portion of the
// address may contain glob characters; listing uses the longest literal
// prefix of the key.
func (s *S3FileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	s3Files := make([]FileInfo, 0)

	parsed, err := parseS3URI(pathGlob)
	if err != nil {
		return nil, err
	}

	prefix := parsed.Path
	if idx := strings.IndexAny(prefix, "*?["); idx >= 0 {
		prefix = prefix[:idx]
	}

	params := &s3.ListObjectsInput{
		Bucket: aws.String(parsed.Host),
		Prefix: aws.String(prefix),
	}

	objectPrefix := fmt.Sprintf("s3://%s/", parsed.Host)
	var matchErr error
	err = s.s3Client.ListObjectsPages(params,
		func(page *s3.ListObjectsOutput, _ bool) bool {
			for _, object := range page.Contents {
				if parsed.Path != prefix {
					matched, err := path.Match(parsed.Path, *object.Key)
					if err != nil {
						matchErr = err
						return false
					}
					if !matched {
						continue
					}
				}
				s3Files = append(s3Files, FileInfo{
					Name: objectPrefix + *object.Key,
					Size: *object.Size,
				})
			}
			return true
		})
	if matchErr != nil {
		return nil, matchErr
	}

	return s3Files, err
}

// OpenReader opens a chunked reader to the object at filePath, beginning at startAt.
func (s *S3FileSystem) OpenReader(filePath string, startAt int64) (io.ReadCloser, error) {
	objStat, err := s.Stat(filePath)
	if err != nil {
		return nil, err
	}

	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}

	reader := &s3Reader{
		client:    s.s3Client,
		bucket:    parsed.Host,
		key:       parsed.Path,
		offset:    startAt,
		chunkSize: s3ReaderChunkSize,
		totalSize: objStat.Size,
	}
	if startAt >= objStat.Size {
		return reader, nil
	}
	err = reader.loadNextChunk()
	return reader, err
}

// OpenWriter opens a buffered writer to the object at filePath. The object
// is uploaded when the writer is closed.
func (s *S3FileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}

	writer := &s3Writer{
		client: s.s3Client,
		bucket: parsed.Host,
		key:    parsed.Path,
		buf:    filebuffer.New(nil),
	}
	return writer, nil
}

// Stat returns information about the object at filePath
func (s *S3FileSystem) Stat(filePath string) (FileInfo, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return FileInfo{}, err
	}

	params := &s3.ListObjectsInput{
		Bucket: aws.String(parsed.Host),
		Prefix: aws.String(parsed.Path),
	}
	result, err := s.s3Client.ListObjects(params)
	if err != nil {
		return FileInfo{}, err
	}

	for _, object := range result.Contents {
		if *object.Key == parsed.Path {
			return FileInfo{
				Name: filePath,
				Size: *object.Size,
			}, nil
		}
	}

	return FileInfo{}, errors.New("No file with given filename")
}

// Delete removes the object at filePath.
func (s *S3FileSystem) Delete(filePath string) error {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return err
	}

	params := &s3.DeleteObjectInput{
		Bucket: aws.String(parsed.Host),
		Key:    aws.String(parsed.Path),
	}
	_, err = s.s3Client.DeleteObject(params)
	return err
}

// Init initializes the S3 client from the shared AWS configuration.
func (s *S3FileSystem) Init() error {
	os.Setenv("AWS_SDK_LOAD_CONFIG", "true")
	sess, err := session.NewSession()
	if err != nil {
		return err
	}
	s.s3Client = s3.New(sess)
	return nil
}

// Join joins S3 address elements
func (s *S3FileSystem) Join(elem ...string) string {
	stripped := make([]string, len(elem))
	for i, str := range elem {
		if strings.HasPrefix(str, "/") {
			str = str[1:]
		}
		if i != len(elem)-1 && strings.HasSuffix(str, "/") {
			str = str[:len(str)-1]
		}
		stripped[i] = str
	}
	return strings.Join(stripped, "/")
}
