package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type s3Store struct {
	client *s3.S3
	bucket string
	prefix string
}

// newS3Store understands Region, Endpoint, AccessKeyId, SecretAccessKey,
// SessionToken, Prefix and ForcePathStyle. Without keys the default
// credential chain applies.
func newS3Store(cs ConnectionString, bucket string, opts Options) (*s3Store, error) {
	region := cs.Value("Region")
	if region == "" {
		region = opts.Region
	}
	if region == "" {
		return nil, errors.New("blobstore: s3 connection string needs Region")
	}
	cfg := aws.NewConfig().WithRegion(region).WithMaxRetries(3)
	if endpoint := cs.Value("Endpoint"); endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	if v := cs.Value("ForcePathStyle"); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("blobstore: ForcePathStyle: %w", err)
		}
		cfg = cfg.WithS3ForcePathStyle(force)
	}
	if id := cs.Value("AccessKeyId"); id != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(id, cs.Value("SecretAccessKey"), cs.Value("SessionToken")))
	}
	if opts.HTTPClient != nil {
		cfg = cfg.WithHTTPClient(opts.HTTPClient)
	} else if opts.Timeout > 0 {
		cfg = cfg.WithHTTPClient(&http.Client{Timeout: opts.Timeout})
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("blobstore: aws session: %w", err)
	}
	prefix := strings.Trim(cs.Value("Prefix"), "/")
	if prefix != "" {
		prefix += "/"
	}
	return &s3Store{client: s3.New(sess), bucket: bucket, prefix: prefix}, nil
}

func (s *s3Store) Open(ctx context.Context, blob string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + blob),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return nil, fmt.Errorf("fetch s3://%s/%s%s: %w", s.bucket, s.prefix, blob, ErrNotFound)
			}
		}
		return nil, fmt.Errorf("fetch s3://%s/%s%s: %w", s.bucket, s.prefix, blob, err)
	}
	return out.Body, nil
}
