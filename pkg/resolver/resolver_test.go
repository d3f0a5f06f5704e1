package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"coursedl/pkg/config"
	"coursedl/pkg/errors"
	"coursedl/pkg/logger"
	"coursedl/pkg/site"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playerAllTiers = `<script>(function(){var a={"request":{"files":{"h264":{
"mobile":{"url":"https://cdn.example/m.mp4?t=1"},
"sd":{"url":"https://cdn.example/s.mp4?t=1"},
"hd":{"url":"https://cdn.example/h.mp4?t=1"}}}}};if(a.request){play(a)}})();</script>`

const playerLowTiers = `<script>var a={"request":{"files":{"h264":{
"mobile":{"url":"https://cdn.example/m.mp4?t=1"},
"sd":{"url":"https://cdn.example/s.mp4?t=1"}}}}};if(a){}</script>`

const playerPattern = `{"url":"https://pdlvimeocdn-a.akamaihd.net/1/2/3.mp4?token2=111_abc&aksessionid=s1"}
{"url":"https://pdlvimeocdn-a.akamaihd.net/4/5/6.mp4?token2=222_def&aksessionid=s2"}`

func TestStructuredStrategy(t *testing.T) {
	s := &StructuredStrategy{Qualities: []string{"hd", "sd", "mobile"}}

	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "prefers hd", body: playerAllTiers, want: "https://cdn.example/h.mp4?t=1"},
		{name: "falls back to sd", body: playerLowTiers, want: "https://cdn.example/s.mp4?t=1"},
		{name: "no config", body: "<p>nothing</p>", wantErr: true},
		{name: "bad json", body: `var a={"request":oops};if(`, wantErr: true},
		{name: "no tiers", body: `var a={"request":{"files":{"h264":{}}}};if(`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Extract([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPatternStrategyTakesLastMatch(t *testing.T) {
	s, err := NewPatternStrategy(config.DefaultVideoPattern)
	require.NoError(t, err)

	got, err := s.Extract([]byte(playerPattern))
	require.NoError(t, err)
	assert.Equal(t, "https://pdlvimeocdn-a.akamaihd.net/4/5/6.mp4?token2=222_def&aksessionid=s2", got)

	_, err = s.Extract([]byte("no urls here"))
	assert.Error(t, err)
}

func TestNewStrategy(t *testing.T) {
	cfg := config.DefaultConfig().Resolver

	s, err := NewStrategy(&cfg)
	require.NoError(t, err)
	assert.Equal(t, config.StrategyStructured, s.Name())

	cfg.Strategy = config.StrategyPattern
	s, err = NewStrategy(&cfg)
	require.NoError(t, err)
	assert.Equal(t, config.StrategyPattern, s.Name())

	cfg.VideoPattern = "("
	_, err = NewStrategy(&cfg)
	assert.Error(t, err)

	cfg.Strategy = "guess"
	_, err = NewStrategy(&cfg)
	assert.Error(t, err)
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	session := site.NewAnonymousSession(&config.DefaultConfig().Site, logger.NewNopLogger())
	return New(session, &StructuredStrategy{Qualities: []string{"hd", "sd"}}, logger.NewNopLogger())
}

func TestResolveSendsReferer(t *testing.T) {
	var referer atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer.Store(r.Referer())
		fmt.Fprint(w, playerAllTiers)
	}))
	defer srv.Close()

	media, err := newTestResolver(t).Resolve(context.Background(), srv.URL+"/player/1", "https://site.example/lesson-1/")
	require.NoError(t, err)

	assert.Equal(t, "https://site.example/lesson-1/", referer.Load())
	assert.Equal(t, "https://cdn.example/h.mp4?t=1", media.URL)
	assert.Equal(t, ".mp4", media.Extension)
}

func TestResolveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			http.Error(w, "gone", http.StatusForbidden)
		default:
			fmt.Fprint(w, "<html>no player here</html>")
		}
	}))
	defer srv.Close()
	r := newTestResolver(t)

	_, err := r.Resolve(context.Background(), srv.URL+"/gone", srv.URL)
	assert.True(t, errors.IsType(err, errors.ErrorTypeResolve))

	_, err = r.Resolve(context.Background(), srv.URL+"/empty", srv.URL)
	assert.True(t, errors.IsType(err, errors.ErrorTypeResolve))
}

func TestResolveCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, playerAllTiers)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestResolver(t).Resolve(ctx, srv.URL, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestURLHelpers(t *testing.T) {
	ext, err := Extension("https://cdn.example/a/b/video.mp4?token=1&x=.zip")
	require.NoError(t, err)
	assert.Equal(t, ".mp4", ext)

	ext, err = Extension("https://cdn.example/stream")
	require.NoError(t, err)
	assert.Equal(t, "", ext)

	base, err := BaseName("https://files.example/dl/project-files.zip?key=abc")
	require.NoError(t, err)
	assert.Equal(t, "project-files.zip", base)

	_, err = BaseName("https://files.example/")
	assert.Error(t, err)
}
