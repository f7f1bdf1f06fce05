// Package s3cas stores content blocks as objects in an S3-compatible bucket.
//
// Objects are keyed "<prefix><cid>" and never overwritten; bytes read back
// are re-verified against the requested CID.
package s3cas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ipfs/go-cid"

	"xdao.co/drinkpoap/cidutil"
	"xdao.co/drinkpoap/storage"
)

// API is the subset of *s3.Client the store needs.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// ContentType is set on every stored object.
const ContentType = "application/octet-stream"

type CAS struct {
	api    API
	bucket string
	prefix string
}

var _ storage.CAS = (*CAS)(nil)

// New returns a CAS writing to bucket under prefix (may be empty).
func New(api API, bucket, prefix string) (*CAS, error) {
	if api == nil {
		return nil, errors.New("s3cas: nil client")
	}
	if bucket == "" {
		return nil, errors.New("s3cas: bucket is required")
	}
	return &CAS{api: api, bucket: bucket, prefix: prefix}, nil
}

func (c *CAS) key(id cid.Cid) string { return c.prefix + id.String() }

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	if c.Has(ctx, id) {
		existing, err := c.Get(ctx, id)
		if err != nil {
			return cid.Undef, err
		}
		if !bytes.Equal(existing, data) {
			return cid.Undef, storage.ErrImmutable
		}
		return id, nil
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.key(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ContentType),
		Metadata:      map[string]string{"cid": id.String()},
	})
	if err != nil {
		return cid.Undef, wrapErr("put", id, err)
	}
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, wrapErr("get", id, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3cas: read %s: %w", id, err)
	}
	got, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(id)),
	})
	return err == nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

// wrapErr marks failures that never got a usable answer from the bucket
// (no response, throttling, 5xx) as storage.ErrUnavailable.
func wrapErr(op string, id cid.Cid, err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		if code < 500 && code != 429 {
			return fmt.Errorf("s3cas: %s %s: %w", op, id, err)
		}
	}
	return fmt.Errorf("%w: s3cas: %s %s: %w", storage.ErrUnavailable, op, id, err)
}
