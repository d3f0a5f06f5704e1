package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"coursedl/pkg/errors"
	"coursedl/pkg/logger"
	"coursedl/pkg/storage"
	"coursedl/pkg/ui"
)

// DefaultChunkSize is the read size used while streaming a body to disk
const DefaultChunkSize = 256 * 1024

// Getter issues plain GET requests. Media hosts are fetched without site
// cookies, so an anonymous session usually backs it.
type Getter interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error)
}

// Status is the result of one fetch
type Status int

const (
	Downloaded Status = iota
	Skipped
)

func (s Status) String() string {
	if s == Skipped {
		return "skipped"
	}
	return "downloaded"
}

// Outcome describes a finished fetch. Bytes is zero for skipped files.
type Outcome struct {
	Status Status
	Bytes  int64
}

// Fetcher streams remote files to disk, skipping destinations that already exist
type Fetcher struct {
	getter    Getter
	chunkSize int
	progress  ui.ProgressFactory
	logger    logger.Logger
}

// New creates a fetcher. A chunkSize <= 0 selects DefaultChunkSize and a nil
// progress factory disables progress output.
func New(getter Getter, chunkSize int, progress ui.ProgressFactory, log logger.Logger) *Fetcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if progress == nil {
		progress = ui.NopProgress
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Fetcher{
		getter:    getter,
		chunkSize: chunkSize,
		progress:  progress,
		logger:    log.WithField("component", "fetcher"),
	}
}

// Fetch downloads rawURL to dest. If dest already exists nothing is requested
// and the outcome is Skipped. The body is written to a partial file that is
// renamed onto dest only after the whole body arrived, so a failed or
// cancelled transfer never leaves dest behind.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) (*Outcome, error) {
	if storage.Exists(dest) {
		logger.LogDownload(f.logger, rawURL, dest, true, "", nil)
		return &Outcome{Status: Skipped}, nil
	}

	resp, err := f.getter.Get(ctx, rawURL, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, f.fail(errors.NewFetchError("request failed", rawURL, dest, 0, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, f.fail(errors.NewFetchError(fmt.Sprintf("unexpected status %s", resp.Status), rawURL, dest, resp.StatusCode, nil))
	}

	out, err := storage.Create(dest)
	if err != nil {
		return nil, f.fail(errors.NewFetchError("failed to create file", rawURL, dest, 0, err))
	}

	bar := f.progress(resp.ContentLength, filepath.Base(dest))
	written, err := f.copy(ctx, io.MultiWriter(out, bar), resp.Body)
	bar.Finish()
	if err != nil {
		out.Abort()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, f.fail(errors.NewFetchError("transfer failed", rawURL, dest, resp.StatusCode, err))
	}

	if resp.ContentLength >= 0 && written != resp.ContentLength {
		out.Abort()
		msg := fmt.Sprintf("incomplete transfer: got %d of %d bytes", written, resp.ContentLength)
		return nil, f.fail(errors.NewFetchError(msg, rawURL, dest, resp.StatusCode, nil))
	}

	if err := out.Commit(); err != nil {
		return nil, f.fail(errors.NewFetchError("failed to save file", rawURL, dest, 0, err))
	}

	logger.LogDownload(f.logger, rawURL, dest, false, ui.MustFormatSize(written), nil)
	return &Outcome{Status: Downloaded, Bytes: written}, nil
}

// copy moves the body in chunkSize reads, checking for cancellation between chunks
func (f *Fetcher) copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, f.chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			m, err := dst.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, err
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func (f *Fetcher) fail(err *errors.Error) error {
	logger.LogDownload(f.logger, err.URL, err.Path, false, "", err)
	return err
}
