package coverstore

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultMaxSize = 20 << 20

// MinioOptions configures the MinIO gateway.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// PublicURL is the base of the URLs handed out for stored covers.
	// Defaults to the endpoint URL.
	PublicURL string
	MaxSize   int64
}

// Minio stores covers in a MinIO or S3 bucket.
type Minio struct {
	client     *minio.Client
	httpClient HTTPDoer
	bucket     string
	publicURL  string
	maxSize    int64
}

// MinioOption configures the gateway.
type MinioOption func(*Minio)

// WithHTTPClient sets the client used to download originals.
func WithHTTPClient(c HTTPDoer) MinioOption {
	return func(m *Minio) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// NewMinio creates a gateway for the configured bucket.
func NewMinio(opts MinioOptions, options ...MinioOption) (*Minio, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		publicURL = strings.TrimRight(client.EndpointURL().String(), "/")
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	m := &Minio{
		client:     client,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		bucket:     opts.Bucket,
		publicURL:  publicURL,
		maxSize:    maxSize,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *Minio) EnsureBucket(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return classify("bucket", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return classify("bucket", err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (m *Minio) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return classify("ping", err)
	}
	if !exists {
		return newError(KindUnexpected, "ping", fmt.Errorf("bucket %s does not exist", m.bucket))
	}
	return nil
}

func (m *Minio) objectURL(key string) string {
	return m.publicURL + "/" + m.bucket + "/" + key
}

func (m *Minio) Upload(ctx context.Context, url, folder, identifier string, tags []string) (Item, error) {
	orig, err := fetchOriginal(ctx, m.httpClient, url, m.maxSize)
	if err != nil {
		return Item{}, err
	}

	key := ObjectKey(folder, identifier)
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(orig.data), int64(len(orig.data)), minio.PutObjectOptions{
		ContentType: "image/" + orig.format,
		UserMetadata: map[string]string{
			"width":  strconv.Itoa(orig.width),
			"height": strconv.Itoa(orig.height),
			"format": orig.format,
			"tags":   strings.Join(tags, ","),
		},
	})
	if err != nil {
		return Item{}, classify("upload", err)
	}

	return Item{
		ID:     key,
		URL:    m.objectURL(key),
		Folder: folder,
		Size:   int64(len(orig.data)),
		Width:  orig.width,
		Height: orig.height,
		Format: orig.format,
		Tags:   tags,
	}, nil
}

func (m *Minio) Remove(ctx context.Context, folder, identifier string) error {
	key := ObjectKey(folder, identifier)
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		return classify("remove", err)
	}
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify("remove", err)
	}
	return nil
}

func (m *Minio) Search(ctx context.Context, query, folder string, maxResults int) ([]Item, error) {
	prefix := ""
	if folder != "" {
		prefix = strings.Trim(folder, "/") + "/"
	}

	var items []Item
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, classify("search", obj.Err)
		}
		if query != "" && !strings.Contains(obj.Key, query) {
			continue
		}
		items = append(items, m.itemFromInfo(obj))
		if maxResults > 0 && len(items) >= maxResults {
			break
		}
	}
	return items, nil
}

func (m *Minio) Move(ctx context.Context, source, destination string, overwrite bool) (Item, error) {
	src := strings.Trim(source, "/")
	dst := strings.Trim(destination, "/")

	if !overwrite {
		_, err := m.client.StatObject(ctx, m.bucket, dst, minio.StatObjectOptions{})
		if err == nil {
			return Item{}, newError(KindInvalidResource, "move", fmt.Errorf("destination %s already exists", dst))
		}
		if cerr := classify("move", err); KindOf(cerr) != KindNotFound {
			return Item{}, cerr
		}
	}

	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: m.bucket, Object: src},
	)
	if err != nil {
		return Item{}, classify("move", err)
	}
	if err := m.client.RemoveObject(ctx, m.bucket, src, minio.RemoveObjectOptions{}); err != nil {
		return Item{}, classify("move", err)
	}

	info, err := m.client.StatObject(ctx, m.bucket, dst, minio.StatObjectOptions{})
	if err != nil {
		return Item{}, classify("move", err)
	}
	return m.itemFromInfo(info), nil
}

func (m *Minio) itemFromInfo(info minio.ObjectInfo) Item {
	folder, _ := splitKey(info.Key)
	item := Item{
		ID:     info.Key,
		URL:    m.objectURL(info.Key),
		Folder: folder,
		Size:   info.Size,
		Format: metadata(info, "format"),
	}
	item.Width, _ = strconv.Atoi(metadata(info, "width"))
	item.Height, _ = strconv.Atoi(metadata(info, "height"))
	if tags := metadata(info, "tags"); tags != "" {
		item.Tags = strings.Split(tags, ",")
	}
	return item
}

// metadata looks up a user metadata value regardless of how the server
// cased or prefixed the key.
func metadata(info minio.ObjectInfo, name string) string {
	for k, v := range info.UserMetadata {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == name {
			return v
		}
	}
	return ""
}

var errorKinds = map[string]Kind{
	"AccessDenied":          KindCredentials,
	"InvalidAccessKeyId":    KindCredentials,
	"SignatureDoesNotMatch": KindCredentials,
	"ExpiredToken":          KindCredentials,
	"NoSuchKey":             KindNotFound,
	"NoSuchBucket":          KindUnexpected,
	"EntityTooLarge":        KindTooLarge,
	"InvalidArgument":       KindInvalidResource,
	"InvalidObjectName":     KindInvalidResource,
	"InvalidBucketName":     KindInvalidResource,
}

// classify maps a store response to a Kind. Only a missing object is
// KindNotFound; a missing bucket or an unknown 404 is a store fault, not a
// dead original.
func classify(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if kind, ok := errorKinds[resp.Code]; ok {
		return newError(kind, op, err)
	}
	switch {
	case resp.StatusCode == http.StatusForbidden:
		return newError(KindCredentials, op, err)
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode >= 500:
		return newError(KindUnexpected, op, err)
	}
	return newError(KindGeneric, op, err)
}
