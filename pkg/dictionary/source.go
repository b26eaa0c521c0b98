package dictionary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MaxSize bounds how much a Source may return.
const MaxSize = 16 << 20

// Source loads raw dictionary content from durable storage.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
}

// FileSource reads the dictionary from a local file.
type FileSource struct {
	Path string
}

// Load implements Source.
func (f FileSource) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDictionaryMissing, f.Path)
		}
		return nil, err
	}
	defer file.Close()

	return readLimited(file)
}

// String implements fmt.Stringer.
func (f FileSource) String() string {
	return "file://" + f.Path
}

// S3API is the subset of *s3.Client used by S3Source.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads the dictionary from an S3 object.
//
// Example:
//
//	client := s3.New(s3.Options{Region: "eu-west-1"})
//	src := dictionary.S3Source{Client: client, Bucket: "dicts", Key: "ghostwatch.dict"}
type S3Source struct {
	Client S3API
	Bucket string
	Key    string
}

// Load implements Source.
func (s S3Source) Load(ctx context.Context) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrDictionaryMissing, s)
		}
		return nil, fmt.Errorf("dictionary: s3 get %s: %w", s, err)
	}
	defer out.Body.Close()

	return readLimited(out.Body)
}

// String implements fmt.Stringer.
func (s S3Source) String() string {
	return "s3://" + s.Bucket + "/" + s.Key
}

// LoadInitial loads the startup dictionary from src with the given version.
// A missing dictionary yields an error wrapping ErrDictionaryMissing.
func LoadInitial(ctx context.Context, src Source, version uint32) (*Dictionary, error) {
	data, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return New(version, data, time.Now())
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("dictionary: content exceeds %d bytes", MaxSize)
	}
	return data, nil
}
