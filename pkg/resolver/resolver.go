package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"coursedl/pkg/errors"
	"coursedl/pkg/logger"
)

// Getter is the part of a site session the resolver needs
type Getter interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error)
}

// ResolvedMedia is a downloadable media URL and the file extension its path
// carries, query string excluded
type ResolvedMedia struct {
	URL       string
	Extension string
}

// Resolver turns a player reference into a media URL
type Resolver struct {
	session  Getter
	strategy Strategy
	logger   logger.Logger
}

// New creates a resolver that fetches player pages through session
func New(session Getter, strategy Strategy, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Resolver{
		session:  session,
		strategy: strategy,
		logger:   log.WithField("component", "resolver"),
	}
}

// Resolve fetches playerRef with referer as the Referer header, which the
// streaming host requires, and applies the configured strategy to the reply
func (r *Resolver) Resolve(ctx context.Context, playerRef, referer string) (*ResolvedMedia, error) {
	resp, err := r.session.Get(ctx, playerRef, http.Header{"Referer": []string{referer}})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.NewResolveError("failed to fetch player page", playerRef, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewResolveError(fmt.Sprintf("player page returned %s", resp.Status), playerRef, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.NewResolveError("failed to read player page", playerRef, err)
	}

	mediaURL, err := r.strategy.Extract(body)
	if err != nil {
		return nil, errors.NewResolveError("failed to find video url", playerRef, err)
	}

	ext, err := Extension(mediaURL)
	if err != nil {
		return nil, errors.NewResolveError("media URL is malformed", mediaURL, err)
	}

	r.logger.DebugWithFields("Resolved media URL", map[string]interface{}{
		"strategy": r.strategy.Name(),
		"player":   playerRef,
		"url":      mediaURL,
	})

	return &ResolvedMedia{URL: mediaURL, Extension: ext}, nil
}

// Extension returns the extension of the URL's path, e.g. ".mp4" for
// "https://cdn/x/video.mp4?token=1"
func Extension(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return path.Ext(u.Path), nil
}

// BaseName returns the last path segment of the URL, query excluded
func BaseName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return "", fmt.Errorf("URL %s has no file name", rawURL)
	}
	return base, nil
}
