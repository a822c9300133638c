package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const zstdMaxMemory = 256 * 1024 * 1024

// Opener resolves a trace source name to a reader. Sources are local
// paths or s3://bucket/key URLs; a .gz or .zst suffix selects the
// decompressor.
type Opener struct {
	S3 S3Options

	once     sync.Once
	s3       ObjectGetter
	s3Err    error
	newS3API func(ctx context.Context, opts S3Options) (ObjectGetter, error)
}

// NewOpener returns an Opener that builds its S3 client on first use.
func NewOpener(opts S3Options) *Opener {
	return &Opener{S3: opts, newS3API: newS3Client}
}

// WithObjectGetter returns an Opener that fetches s3:// sources through g.
func WithObjectGetter(g ObjectGetter) *Opener {
	o := &Opener{}
	o.once.Do(func() { o.s3 = g })
	return o
}

// Open returns a reader positioned at the first record.
func (o *Opener) Open(ctx context.Context, source string) (*StreamReader, error) {
	raw, err := o.openRaw(ctx, source)
	if err != nil {
		return nil, err
	}

	body, err := decompress(source, raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	r, err := NewStreamReader(body, multiCloser{body, raw})
	if err != nil {
		_ = body.Close()
		_ = raw.Close()
		return nil, fmt.Errorf("trace %s: %w", source, err)
	}
	return r, nil
}

func (o *Opener) openRaw(ctx context.Context, source string) (io.ReadCloser, error) {
	if bucket, key, ok := parseS3URL(source); ok {
		api, err := o.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return getObject(ctx, api, bucket, key)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	return f, nil
}

func (o *Opener) s3Client(ctx context.Context) (ObjectGetter, error) {
	o.once.Do(func() {
		if o.newS3API == nil {
			o.s3Err = errors.New("trace: s3 sources are not configured")
			return
		}
		o.s3, o.s3Err = o.newS3API(ctx, o.S3)
	})
	return o.s3, o.s3Err
}

func decompress(source string, raw io.Reader) (io.ReadCloser, error) {
	name := strings.ToLower(source)
	switch {
	case strings.HasSuffix(name, ".gz"):
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("trace %s: gzip: %w", source, err)
		}
		return zr, nil
	case strings.HasSuffix(name, ".zst"):
		dec, err := zstd.NewReader(raw,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(zstdMaxMemory),
		)
		if err != nil {
			return nil, fmt.Errorf("trace %s: zstd: %w", source, err)
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(raw), nil
	}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
