package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/rescache/blobstore"
)

// smallObjectLimit is the size up to which Put uses a single PutObject with
// an explicit CRC32C instead of the multipart uploader.
const smallObjectLimit = 5 * 1024 * 1024

// Store implements blobstore.Store for Amazon S3.
type Store struct {
	client   Client
	bucket   string
	prefix   string
	upload   UploadConfig
	uploader *manager.Uploader
}

var _ blobstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithUploadConfig overrides the multipart upload settings.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(s *Store) { s.upload = cfg }
}

// NewStore creates a new S3 blob store.
// rootPrefix is prepended to all keys (e.g. "project-a/").
func NewStore(client Client, bucket, rootPrefix string, opts ...Option) *Store {
	s := &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(rootPrefix, "/"),
		upload: DefaultUploadConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.uploader = newUploader(client, s.upload)
	return s
}

// New loads the default AWS configuration and creates a Store for bucket.
func New(ctx context.Context, bucket, rootPrefix string, opts ...Option) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}
	return NewStore(s3.NewFromConfig(cfg), bucket, rootPrefix, opts...), nil
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, blobstore.CleanName(name))
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

func (s *Store) head(ctx context.Context, op, name string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3: %s %q: %w", op, name, blobstore.ErrNotFound)
		}
		return nil, err
	}
	return out, nil
}

// Open opens a blob for reading. Range reads made through the returned blob
// use ctx.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	head, err := s.head(ctx, "open", name)
	if err != nil {
		return nil, err
	}
	return &s3Blob{
		ctx:    ctx,
		client: s.client,
		bucket: s.bucket,
		key:    s.key(name),
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

// Stat returns size and last-modified time of a blob.
func (s *Store) Stat(ctx context.Context, name string) (blobstore.Info, error) {
	head, err := s.head(ctx, "stat", name)
	if err != nil {
		return blobstore.Info{}, err
	}
	return blobstore.Info{
		Name:    name,
		Size:    aws.ToInt64(head.ContentLength),
		ModTime: aws.ToTime(head.LastModified),
	}, nil
}

// Create starts a streaming multipart upload. The object appears when Close
// returns.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return newStreamingWritableBlob(ctx, s.client, s.uploader, s.bucket, s.key(name), s.upload.EnableChecksum), nil
}

// Put writes a blob atomically.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if len(data) <= smallObjectLimit && s.upload.EnableChecksum {
		return putWithChecksum(ctx, s.client, s.bucket, s.key(name), data)
	}
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.(*streamingWritableBlob).Abort()
		return err
	}
	return w.Close()
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns the sorted names of all blobs starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.prefix
	if prefix != "" {
		fullPrefix = path.Join(s.prefix, prefix)
		if strings.HasSuffix(prefix, "/") {
			fullPrefix += "/"
		}
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(strings.TrimPrefix(aws.ToString(obj.Key), s.prefix), "/")
			if rel != "" {
				keys = append(keys, rel)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// s3Blob implements blobstore.Blob with ranged GetObject calls.
type s3Blob struct {
	ctx    context.Context
	client Client
	bucket string
	key    string
	size   int64
}

func (b *s3Blob) Close() error { return nil }

func (b *s3Blob) Size() int64 { return b.size }

func (b *s3Blob) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= b.size {
		return 0, io.EOF
	}
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}

	end := min(off+int64(len(p)), b.size) - 1
	resp, err := b.client.GetObject(b.ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.ReadFull(resp.Body, p[:end-off+1])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
