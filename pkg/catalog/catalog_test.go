package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"coursedl/pkg/config"
	"coursedl/pkg/errors"
	"coursedl/pkg/logger"
	"coursedl/pkg/site"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginForm = `<form id="edd_login_form" method="post">
<input type="text" name="edd_user_login" value="">
<input type="password" name="edd_user_pass" value="">
<input type="hidden" name="edd_action" value="user_login">
</form>`

const coursePage = `<html><body>
<div class="wpcw_fe_course_title">Drawing: 101</div>
<table>
<tr class="wpcw_fe_module" id="g2"><td>2</td><td>Extras</td></tr>
<tr class="g2"><td>1</td><td><a href="/lesson/pack">Pack</a></td></tr>
<tr class="wpcw_fe_module" id="g1"><td>1</td><td>Basics</td></tr>
<tr class="g1"><td>1</td><td><a href="/lesson/lines">Lines</a></td></tr>
<tr class="g1"><td>2</td><td><a href="/lesson/curves">Curves</a></td></tr>
</table></body></html>`

// courseSite is a fake course site plus a separate media host
type courseSite struct {
	site *httptest.Server
	cdn  *httptest.Server

	page        string
	cdnHits     atomic.Int32
	catalogHits atomic.Int32
	broken      sync.Map // player ids that answer 404
}

func newCourseSite(t *testing.T) *courseSite {
	t.Helper()
	cs := &courseSite{page: coursePage}

	cs.cdn = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.cdnHits.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/v/"):
			fmt.Fprintf(w, "video:%s", strings.TrimPrefix(r.URL.Path, "/v/"))
		case strings.HasPrefix(r.URL.Path, "/files/"):
			fmt.Fprintf(w, "file:%s", strings.TrimPrefix(r.URL.Path, "/files/"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(cs.cdn.Close)

	loggedIn := func(r *http.Request) bool {
		c, err := r.Cookie("auth")
		return err == nil && c.Value == "ok"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/my-account/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = r.ParseForm()
			if r.PostForm.Get("edd_user_pass") == "secret" {
				http.SetCookie(w, &http.Cookie{Name: "auth", Value: "ok", Path: "/"})
				fmt.Fprint(w, `<a href="/logout">Log Out</a>`)
				return
			}
		}
		fmt.Fprint(w, loginForm)
	})
	mux.HandleFunc("/course/", func(w http.ResponseWriter, r *http.Request) {
		cs.catalogHits.Add(1)
		if !loggedIn(r) {
			fmt.Fprint(w, loginForm)
			return
		}
		fmt.Fprint(w, cs.page)
	})
	mux.HandleFunc("/lesson/", func(w http.ResponseWriter, r *http.Request) {
		if !loggedIn(r) {
			fmt.Fprint(w, loginForm)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/lesson/")
		switch id {
		case "pack":
			fmt.Fprintf(w, `<a class="sf-button" href="%[1]s/files/pack.zip?key=1">zip</a>
<a class="sf-button" href="%[1]s/files/brushes.zip">brushes</a>`, cs.cdn.URL)
		case "soon":
			fmt.Fprint(w, `<h1 class="entry-title">Soon</h1><p>coming soon</p>`)
		default:
			fmt.Fprintf(w, `<h1 class="entry-title">Lesson %s</h1>
<a class="fw-video-link" data-video="/player/%s">play</a>`, id, id)
		}
	})
	mux.HandleFunc("/player/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/player/")
		if _, ok := cs.broken.Load(id); ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<script>var a={"request":{"files":{"h264":{"hd":{"url":"%s/v/%s.mp4?token=t"}}}}};if(a){}</script>`, cs.cdn.URL, id)
	})

	cs.site = httptest.NewServer(mux)
	t.Cleanup(cs.site.Close)
	return cs
}

func (cs *courseSite) config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Site.BaseURL = cs.site.URL
	cfg.Site.AccountPath = "/my-account/"
	cfg.Download.ShowProgress = false
	return cfg
}

func newTestDownloader(t *testing.T, cfg *config.Config, password string) (*Downloader, *bytes.Buffer) {
	t.Helper()
	d, err := New(cfg, site.Credentials{Login: "alice", Password: password}, logger.NewNopLogger())
	require.NoError(t, err)
	var out bytes.Buffer
	d.SetOutput(&out)
	return d, &out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestDownloadListMirrorsCourse(t *testing.T) {
	cs := newCourseSite(t)
	root := t.TempDir()
	cfg := cs.config()

	d, out := newTestDownloader(t, cfg, "secret")
	report, err := d.DownloadList(context.Background(), cs.site.URL+"/course/", root)
	require.NoError(t, err)

	course := filepath.Join(root, "Drawing_ 101")
	assert.Equal(t, "video:lines.mp4", readFile(t, filepath.Join(course, "1 - Basics", "1 - Lines.mp4")))
	assert.Equal(t, "video:curves.mp4", readFile(t, filepath.Join(course, "1 - Basics", "2 - Curves.mp4")))
	assert.Equal(t, "file:pack.zip", readFile(t, filepath.Join(course, "2 - Extras", "1 - Pack", "pack.zip")))
	assert.Equal(t, "file:brushes.zip", readFile(t, filepath.Join(course, "2 - Extras", "1 - Pack", "brushes.zip")))

	assert.Equal(t, "Drawing: 101", report.Course)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 4, report.Downloaded)
	assert.Equal(t, 0, report.Skipped)
	assert.Empty(t, report.Failures)
	assert.Equal(t, int32(4), cs.cdnHits.Load())
	assert.Contains(t, out.String(), "4 downloaded, 0 skipped")

	// a second run finds every file in place and never touches the media host
	d2, _ := newTestDownloader(t, cfg, "secret")
	report, err = d2.DownloadList(context.Background(), cs.site.URL+"/course/", root)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Downloaded)
	assert.Equal(t, 4, report.Skipped)
	assert.Equal(t, int32(4), cs.cdnHits.Load())
}

func TestDownloadListConcurrent(t *testing.T) {
	cs := newCourseSite(t)
	root := t.TempDir()
	cfg := cs.config()
	cfg.Download.Concurrent = true
	cfg.Download.Workers = 2

	d, _ := newTestDownloader(t, cfg, "secret")
	report, err := d.DownloadList(context.Background(), cs.site.URL+"/course/", root)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Downloaded)
	assert.FileExists(t, filepath.Join(root, "Drawing_ 101", "1 - Basics", "2 - Curves.mp4"))
	assert.FileExists(t, filepath.Join(root, "Drawing_ 101", "2 - Extras", "1 - Pack", "brushes.zip"))
}

func TestDownloadListConcurrentSuppressesBars(t *testing.T) {
	cs := newCourseSite(t)
	cfg := cs.config()
	cfg.Download.ShowProgress = true
	cfg.Download.Concurrent = true

	d, out := newTestDownloader(t, cfg, "secret")
	_, err := d.DownloadList(context.Background(), cs.site.URL+"/course/", t.TempDir())
	require.NoError(t, err)

	assert.NotContains(t, out.String(), "1 - Lines.mp4", "no per-file bar in concurrent mode")
	assert.Contains(t, out.String(), "4 downloaded")

	// sequentially the same settings draw one bar per file
	cfg.Download.Concurrent = false
	d, out = newTestDownloader(t, cfg, "secret")
	_, err = d.DownloadList(context.Background(), cs.site.URL+"/course/", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "1 - Lines.mp4")
}

func TestDownloadListSkipsCollidingNames(t *testing.T) {
	cs := newCourseSite(t)
	cs.page = `<html><body>
<div class="wpcw_fe_course_title">Inking</div>
<table>
<tr class="wpcw_fe_module" id="g1"><td>1</td><td>Tools</td></tr>
<tr class="g1"><td>1</td><td><a href="/lesson/pens">Pens: Dip</a></td></tr>
<tr class="g1"><td>1</td><td><a href="/lesson/brushes">Pens? Dip</a></td></tr>
</table></body></html>`
	root := t.TempDir()
	cfg := cs.config()
	cfg.Download.Concurrent = true
	cfg.Download.Workers = 2

	d, _ := newTestDownloader(t, cfg, "secret")
	report, err := d.DownloadList(context.Background(), cs.site.URL+"/course/", root)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Failures)
	assert.Equal(t, int32(1), cs.cdnHits.Load())
	assert.Equal(t, "video:pens.mp4", readFile(t, filepath.Join(root, "Inking", "1 - Tools", "1 - Pens_ Dip.mp4")))
	assert.NoFileExists(t, filepath.Join(root, "Inking", "1 - Tools", "1 - Pens_ Dip.mp4.part"))
}

func TestDownloadListAuthFailureStopsBeforeCatalog(t *testing.T) {
	cs := newCourseSite(t)
	root := t.TempDir()

	d, _ := newTestDownloader(t, cs.config(), "wrong")
	_, err := d.DownloadList(context.Background(), cs.site.URL+"/course/", root)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuth))
	assert.Equal(t, int32(0), cs.catalogHits.Load())
	assert.NoDirExists(t, filepath.Join(root, "Drawing_ 101"))
}

func TestDownloadListRequiresLogin(t *testing.T) {
	cs := newCourseSite(t)
	d, err := New(cs.config(), site.Credentials{}, logger.NewNopLogger())
	require.NoError(t, err)

	_, err = d.DownloadList(context.Background(), cs.site.URL+"/course/", t.TempDir())
	assert.True(t, errors.IsType(err, errors.ErrorTypeUsage))
}

func TestDownloadListSequentialStopsOnFirstError(t *testing.T) {
	cs := newCourseSite(t)
	cs.broken.Store("curves", true)
	root := t.TempDir()

	d, _ := newTestDownloader(t, cs.config(), "secret")
	report, err := d.DownloadList(context.Background(), cs.site.URL+"/course/", root)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeResolve))
	assert.Equal(t, 1, report.Downloaded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "2 - Curves", report.Failures[0].Name)

	// later sections are never reached
	assert.NoFileExists(t, filepath.Join(root, "Drawing_ 101", "2 - Extras", "1 - Pack", "pack.zip"))
}

func TestDownloadListKeepGoing(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		t.Run(fmt.Sprintf("concurrent=%v", concurrent), func(t *testing.T) {
			cs := newCourseSite(t)
			cs.broken.Store("curves", true)
			root := t.TempDir()
			cfg := cs.config()
			cfg.Download.ContinueOnError = true
			cfg.Download.Concurrent = concurrent

			d, _ := newTestDownloader(t, cfg, "secret")
			report, err := d.DownloadList(context.Background(), cs.site.URL+"/course/", root)

			require.Error(t, err)
			assert.Contains(t, err.Error(), "1 of 3 items failed")
			assert.True(t, errors.IsType(err, errors.ErrorTypeResolve))
			assert.Equal(t, 3, report.Downloaded)
			require.Len(t, report.Failures, 1)
			assert.Contains(t, report.Failures[0].URL, "/lesson/curves")
			assert.FileExists(t, filepath.Join(root, "Drawing_ 101", "2 - Extras", "1 - Pack", "pack.zip"))
			assert.NoFileExists(t, filepath.Join(root, "Drawing_ 101", "1 - Basics", "2 - Curves.mp4"))
		})
	}
}

func TestDownloadListCancelled(t *testing.T) {
	cs := newCourseSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, _ := newTestDownloader(t, cs.config(), "secret")
	_, err := d.DownloadList(ctx, cs.site.URL+"/course/", t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownloadVideoPage(t *testing.T) {
	cs := newCourseSite(t)
	root := t.TempDir()

	d, _ := newTestDownloader(t, cs.config(), "secret")
	report, err := d.DownloadVideoPage(context.Background(), cs.site.URL+"/lesson/intro", root)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, "video:intro.mp4", readFile(t, filepath.Join(root, "Lesson intro.mp4")))
}

func TestDownloadVideoPageMaterialsUseLastPathSegment(t *testing.T) {
	cs := newCourseSite(t)
	root := t.TempDir()

	d, _ := newTestDownloader(t, cs.config(), "secret")
	report, err := d.DownloadVideoPage(context.Background(), cs.site.URL+"/lesson/pack", root)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Downloaded)
	assert.FileExists(t, filepath.Join(root, "pack", "pack.zip"))
	assert.FileExists(t, filepath.Join(root, "pack", "brushes.zip"))
}

func TestDownloadVideoWithoutMedia(t *testing.T) {
	cs := newCourseSite(t)
	root := t.TempDir()
	log := logger.NewTestLogger()

	d, err := New(cs.config(), site.Credentials{Login: "alice", Password: "secret"}, log)
	require.NoError(t, err)
	d.SetOutput(io.Discard)
	require.NoError(t, d.authenticate(context.Background()))

	tally, err := d.DownloadVideo(context.Background(), cs.site.URL+"/lesson/soon", filepath.Join(root, "soon"), false)
	require.NoError(t, err)

	assert.Zero(t, tally.Downloaded)
	assert.True(t, log.HasMessage("No video or materials found on page"))
	assert.Equal(t, int32(0), cs.cdnHits.Load())
}

func TestReportSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "drawing.report.json")
	report := newReport("http://site.test/course/")
	report.Course = "Drawing"
	report.Total = 2
	report.Downloaded = 1
	report.addFailure("2 - Curves", "http://site.test/lesson/curves", "/out/2 - Curves", fmt.Errorf("boom"))

	require.NoError(t, report.Save(path))
	assert.NoFileExists(t, path+".tmp")

	loaded, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, "Drawing", loaded.Course)
	require.Len(t, loaded.Failures, 1)
	assert.Equal(t, "boom", loaded.Failures[0].Message)
	assert.Equal(t, "/out/2 - Curves", loaded.Failures[0].Path)
}

func TestReportErr(t *testing.T) {
	report := newReport("x")
	assert.NoError(t, report.Err())

	report.Total = 3
	cause := errors.NewFetchError("unexpected status", "http://cdn/x", "/out/x", 404, nil)
	report.addFailure("x", "http://site/x", "/out/x", cause)

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 items failed")
	assert.True(t, errors.IsType(err, errors.ErrorTypeFetch))
}

func TestDefaultReportPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	path, err := DefaultReportPath("Drawing: 101")
	require.NoError(t, err)
	assert.Equal(t, "Drawing_ 101.report.json", filepath.Base(path))
}

func TestReportRunIDsAreUnique(t *testing.T) {
	first, second := newReport("a"), newReport("a")
	assert.NotEmpty(t, first.RunID)
	assert.NotEqual(t, first.RunID, second.RunID)
}
