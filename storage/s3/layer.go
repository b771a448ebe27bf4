// Package s3 provides a binary-object layer backed by AWS S3 or any
// S3-compatible endpoint (e.g. MinIO). Dictionary objects are not
// supported; mount it where large file payloads live.
package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/storage/codec"
)

// Config holds the connection settings for an S3 layer.
type Config struct {
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Endpoint  string
	KeyPrefix string
}

// Layer stores binary payloads as S3 objects under a key prefix.
type Layer struct {
	client    *awss3.S3
	bucket    string
	keyPrefix string
	logger    *zap.Logger
}

// New creates an S3 layer and verifies bucket access.
func New(cfg Config, logger *zap.Logger) (*Layer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	awsConfig := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true) // required for MinIO
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	client := awss3.New(sess)

	if _, err := client.HeadBucket(&awss3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %s: %w", cfg.Bucket, err)
	}

	return &Layer{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: strings.Trim(cfg.KeyPrefix, "/"),
		logger:    logger,
	}, nil
}

func (l *Layer) key(rel vpath.Path) string {
	k := strings.TrimPrefix(rel.AsObject().String(), "/")
	if l.keyPrefix != "" {
		return l.keyPrefix + "/" + k
	}
	return k
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}

func (l *Layer) Load(ctx context.Context, rel vpath.Path) (*storage.Object, error) {
	out, err := l.client.GetObjectWithContext(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key(rel)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: s3 get %s: %v", storage.ErrStorage, rel, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	mime := codec.MIMEForExt(rel.Ext())
	if out.ContentType != nil && *out.ContentType != "" {
		mime = *out.ContentType
	}
	return storage.NewBinary(out.Body, size, mime), nil
}

func (l *Layer) Store(ctx context.Context, rel vpath.Path, obj *storage.Object) error {
	if obj.Kind != storage.KindBinary {
		return fmt.Errorf("%w: s3 layer stores binary payloads only", storage.ErrInvalidArgument)
	}
	data, _, mime, err := storage.EncodeObject(rel, obj)
	if err != nil {
		return err
	}
	_, err = l.client.PutObjectWithContext(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(l.bucket),
		Key:         aws.String(l.key(rel)),
		Body:        strings.NewReader(string(data)),
		ContentType: aws.String(mime),
	})
	if err != nil {
		return fmt.Errorf("%w: s3 put %s: %v", storage.ErrStorage, rel, err)
	}
	return nil
}

func (l *Layer) Remove(ctx context.Context, rel vpath.Path) (bool, error) {
	if rel.IsIndex() {
		removed := false
		err := l.client.ListObjectsV2PagesWithContext(ctx, &awss3.ListObjectsV2Input{
			Bucket: aws.String(l.bucket),
			Prefix: aws.String(l.key(rel.AsObject()) + "/"),
		}, func(page *awss3.ListObjectsV2Output, _ bool) bool {
			for _, o := range page.Contents {
				if _, err := l.client.DeleteObjectWithContext(ctx, &awss3.DeleteObjectInput{
					Bucket: aws.String(l.bucket),
					Key:    o.Key,
				}); err == nil {
					removed = true
				}
			}
			return true
		})
		if err != nil {
			return removed, fmt.Errorf("%w: s3 remove %s: %v", storage.ErrStorage, rel, err)
		}
		return removed, nil
	}

	if _, err := l.client.HeadObjectWithContext(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key(rel)),
	}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: s3 head %s: %v", storage.ErrStorage, rel, err)
	}
	if _, err := l.client.DeleteObjectWithContext(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key(rel)),
	}); err != nil {
		return false, fmt.Errorf("%w: s3 delete %s: %v", storage.ErrStorage, rel, err)
	}
	return true, nil
}

func (l *Layer) List(ctx context.Context, rel vpath.Path) ([]storage.Entry, error) {
	prefix := ""
	if !rel.IsRoot() {
		prefix = l.key(rel.AsObject()) + "/"
	} else if l.keyPrefix != "" {
		prefix = l.keyPrefix + "/"
	}

	seen := map[string]bool{}
	var entries []storage.Entry
	err := l.client.ListObjectsV2PagesWithContext(ctx, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(l.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *awss3.ListObjectsV2Output, _ bool) bool {
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(*cp.Prefix, prefix), "/")
			if name != "" && !seen[name] {
				seen[name] = true
				entries = append(entries, storage.Entry{Name: name, Index: true})
			}
		}
		for _, o := range page.Contents {
			name := strings.TrimPrefix(*o.Key, prefix)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			md := &storage.Metadata{
				Path:     rel.AsIndex().Child(name),
				Category: storage.CategoryBinary,
				MIME:     codec.MIMEForExt(vpath.Root.Child(name).Ext()),
				Class:    "[]byte",
			}
			if o.Size != nil {
				md.Size = *o.Size
			}
			if o.LastModified != nil {
				md.Modified = *o.LastModified
			}
			entries = append(entries, storage.Entry{Name: name, Meta: md})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: s3 list %s: %v", storage.ErrStorage, rel, err)
	}
	return entries, nil
}

func (l *Layer) Stat(ctx context.Context, rel vpath.Path) (*storage.Metadata, error) {
	out, err := l.client.HeadObjectWithContext(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key(rel)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: s3 head %s: %v", storage.ErrStorage, rel, err)
	}

	md := &storage.Metadata{
		Path:     rel,
		Category: storage.CategoryBinary,
		MIME:     codec.MIMEForExt(rel.Ext()),
		Class:    "[]byte",
	}
	if out.ContentType != nil && *out.ContentType != "" {
		md.MIME = *out.ContentType
	}
	if out.ContentLength != nil {
		md.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		md.Modified = *out.LastModified
	}
	return md, nil
}

func (l *Layer) Close() error { return nil }
