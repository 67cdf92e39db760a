package pinstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API *s3.Client 满足此接口
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend 对象布局：
//
//	{prefix}blobs/{cid}                 信封内容，SSE-S3
//	{prefix}pins/{cid}.json             Pin 元数据
//	{prefix}tags/{k}={v}/{cid}          tag 索引（空对象，k 和 v 经过转义）
type S3Backend struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Client endpoint 非空时指向 localstack / minio
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3Backend(client S3API, bucket, prefix string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, prefix: prefix}
}

var _ Backend = (*S3Backend)(nil)

func (b *S3Backend) blobKey(id string) string { return b.prefix + "blobs/" + id }
func (b *S3Backend) pinKey(id string) string  { return b.prefix + "pins/" + id + ".json" }
func (b *S3Backend) tagDir(k, v string) string {
	return b.prefix + "tags/" + tagIndexKey(k, v) + "/"
}

// Put 先读后写不是原子的，同一内容并发 pin 时以最后写入的元数据为准
func (b *S3Backend) Put(ctx context.Context, pin Pin, content []byte) (Pin, error) {
	raw, err := b.get(ctx, b.pinKey(pin.ContentID))
	switch {
	case err == nil:
		var prev Pin
		if err := json.Unmarshal(raw, &prev); err != nil {
			return Pin{}, fmt.Errorf("pin %s: %w", pin.ContentID, err)
		}
		pin = mergePin(prev, pin)
	case !errors.Is(err, ErrNotFound):
		return Pin{}, fmt.Errorf("get pin metadata: %w", err)
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(b.bucket),
		Key:                  aws.String(b.blobKey(pin.ContentID)),
		Body:                 bytes.NewReader(content),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
		Metadata:             map[string]string{"name": pin.Name},
	})
	if err != nil {
		return Pin{}, fmt.Errorf("put blob: %w", err)
	}
	meta, err := json.Marshal(pin)
	if err != nil {
		return Pin{}, err
	}
	if _, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.pinKey(pin.ContentID)),
		Body:        bytes.NewReader(meta),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return Pin{}, fmt.Errorf("put pin metadata: %w", err)
	}
	for k, v := range pin.Tags {
		if _, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.tagDir(k, v) + pin.ContentID),
			Body:   bytes.NewReader(nil),
		}); err != nil {
			return Pin{}, fmt.Errorf("put tag index: %w", err)
		}
	}
	return pin, nil
}

func (b *S3Backend) get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) Get(ctx context.Context, contentID string) ([]byte, error) {
	return b.get(ctx, b.blobKey(contentID))
}

func (b *S3Backend) ListByTag(ctx context.Context, key, value string) ([]Pin, error) {
	dir := b.tagDir(key, value)
	pins := []Pin{}
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(dir),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tag index: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), dir)
			raw, err := b.get(ctx, b.pinKey(id))
			if err != nil {
				return nil, fmt.Errorf("pin %s: %w", id, err)
			}
			var p Pin
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			pins = append(pins, p)
		}
	}
	return pins, nil
}

func (b *S3Backend) Close() error { return nil }
