package catalog

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"coursedl/internal/downloader"
	"coursedl/pkg/config"
	"coursedl/pkg/errors"
	"coursedl/pkg/extract"
	"coursedl/pkg/fetcher"
	"coursedl/pkg/logger"
	"coursedl/pkg/ratelimit"
	"coursedl/pkg/resolver"
	"coursedl/pkg/site"
	"coursedl/pkg/storage"
	"coursedl/pkg/ui"
)

// Downloader mirrors a course, or a single lesson, into a local directory
// tree. It logs in once, before any page is requested, and shares the one
// session between all workers.
type Downloader struct {
	cfg      *config.Config
	creds    site.Credentials
	session  *site.Session
	auth     *site.Authenticator
	resolver *resolver.Resolver
	fetcher  *fetcher.Fetcher
	out      io.Writer
	logger   logger.Logger
}

// New wires a downloader from cfg. Site pages go through a cookie-carrying
// session; media and material files are fetched without cookies.
func New(cfg *config.Config, creds site.Credentials, log logger.Logger) (*Downloader, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	session, err := site.NewSession(&cfg.Site, ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute), log)
	if err != nil {
		return nil, err
	}

	strategy, err := resolver.NewStrategy(&cfg.Resolver)
	if err != nil {
		return nil, errors.NewUsageError(err.Error())
	}

	d := &Downloader{
		cfg:      cfg,
		creds:    creds,
		session:  session,
		auth:     site.NewAuthenticator(session, cfg, log),
		resolver: resolver.New(session, strategy, log),
		out:      os.Stdout,
		logger:   log.WithField("component", "catalog"),
	}

	// one bar per file only makes sense when files arrive one at a time
	progress := ui.NopProgress
	if cfg.Download.ShowProgress && !cfg.Download.Concurrent {
		progress = func(total int64, description string) ui.Progress {
			return ui.BarProgress(d.out)(total, description)
		}
	}
	d.fetcher = fetcher.New(site.NewAnonymousSession(&cfg.Site, log), cfg.Download.ChunkSize, progress, log)

	return d, nil
}

// SetOutput redirects the progress bars and run summary, which go to
// stdout by default
func (d *Downloader) SetOutput(w io.Writer) {
	d.out = w
}

// DownloadList mirrors the course listed at listURL into
// outputRoot/<course>/<section>/<video><ext>. Sections are processed in
// lexicographic order and videos in page order. Sequentially, the first
// failure ends the run unless continue_on_error is set; concurrently, every
// video is attempted and the failures are joined into the returned error.
// The report is returned even when err is non-nil.
func (d *Downloader) DownloadList(ctx context.Context, listURL, outputRoot string) (*Report, error) {
	report := newReport(listURL)

	base, err := url.Parse(listURL)
	if err != nil {
		return report, errors.NewInvalidArgumentError(fmt.Sprintf("invalid list URL %q: %v", listURL, err))
	}

	if err := d.authenticate(ctx); err != nil {
		return report, err
	}

	body, err := d.session.GetPage(ctx, listURL)
	if err != nil {
		return report, err
	}

	course, err := extract.ExtractCatalog(body, base)
	if err != nil {
		return report, err
	}
	report.Course = course.Title

	d.logger.InfoWithFields("Catalog extracted", map[string]interface{}{
		"run_id":   report.RunID,
		"title":    course.Title,
		"sections": len(course.Sections),
		"videos":   course.VideoCount(),
	})

	jobs, duplicates, err := d.plan(course, outputRoot)
	if err != nil {
		return report, err
	}
	report.Total = len(jobs) + len(duplicates)
	d.checkFreeSpace(outputRoot)

	live := d.cfg.Download.Concurrent && d.cfg.Download.ShowProgress
	display := ui.NewRunDisplay(d.out, course.Title, report.Total, live)

	for _, dup := range duplicates {
		d.logger.WarnWithFields("Another video already maps to this path, skipping", map[string]interface{}{
			"name": dup.Name,
			"url":  dup.PageURL,
			"path": dup.Dest,
		})
		report.Skipped++
		display.SkipDownload()
	}

	if d.cfg.Download.Concurrent {
		err = d.runConcurrent(ctx, jobs, report, display)
	} else {
		err = d.runSequential(ctx, jobs, report, display)
	}

	report.FinishedAt = time.Now()
	display.Complete()

	if err != nil {
		return report, err
	}
	return report, report.Err()
}

// DownloadVideoPage downloads one lesson page. A video is saved as
// outputRoot/<title><ext>; materials go to outputRoot/<title>/, or to a
// directory named after the page's last path segment when it has no title.
func (d *Downloader) DownloadVideoPage(ctx context.Context, pageURL, outputRoot string) (*Report, error) {
	report := newReport(pageURL)
	report.Total = 1

	if err := d.authenticate(ctx); err != nil {
		return report, err
	}

	tally, err := d.DownloadVideo(ctx, pageURL, outputRoot, true)
	report.Downloaded = tally.Downloaded
	report.Skipped = tally.Skipped
	report.Bytes = tally.Bytes
	report.FinishedAt = time.Now()

	if err != nil {
		if ctx.Err() == nil {
			report.addFailure(pageURL, pageURL, outputRoot, err)
		}
		return report, err
	}
	return report, nil
}

// DownloadVideo downloads what a lesson page offers. Without wantTitle, dest
// is the target path minus extension for a video and the target directory
// for materials. With wantTitle, dest is the parent directory and the page
// title names the file or directory. A page with neither is logged and
// skipped.
func (d *Downloader) DownloadVideo(ctx context.Context, pageURL, dest string, wantTitle bool) (downloader.Tally, error) {
	var tally downloader.Tally

	u, err := url.Parse(pageURL)
	if err != nil {
		return tally, errors.NewInvalidArgumentError(fmt.Sprintf("invalid video URL %q: %v", pageURL, err))
	}

	body, err := d.session.GetPage(ctx, pageURL)
	if err != nil {
		return tally, err
	}

	page, err := extract.ExtractVideoPage(body, u, wantTitle)
	if err != nil {
		return tally, err
	}

	switch page.Media.Kind {
	case extract.DirectVideo:
		media, err := d.resolver.Resolve(ctx, page.Media.PlayerRef, pageURL)
		if err != nil {
			return tally, err
		}

		target := dest
		if wantTitle {
			name, err := storage.SafeName(page.Title)
			if err != nil {
				return tally, err
			}
			target = filepath.Join(dest, name)
		}
		return d.fetch(ctx, media.URL, target+media.Extension, tally)

	case extract.ArchiveLinks:
		dir := dest
		if wantTitle {
			name, err := storage.SafeName(materialsDirName(page.Title, u))
			if err != nil {
				return tally, err
			}
			dir = filepath.Join(dest, name)
		}
		if err := storage.EnsureDir(dir); err != nil {
			return tally, errors.NewFetchError("failed to create directory", pageURL, dir, 0, err)
		}

		d.logger.InfoWithFields("Downloading materials", map[string]interface{}{
			"url":   pageURL,
			"files": len(page.Media.ArchiveURLs),
		})
		for _, link := range page.Media.ArchiveURLs {
			name, err := resolver.BaseName(link)
			if err != nil {
				return tally, errors.NewResolveError("material link has no file name", link, err)
			}
			tally, err = d.fetch(ctx, link, filepath.Join(dir, storage.Sanitize(name)), tally)
			if err != nil {
				return tally, err
			}
		}
		return tally, nil

	default:
		d.logger.WarnWithFields("No video or materials found on page", map[string]interface{}{
			"url": pageURL,
		})
		return tally, nil
	}
}

// lowFreeSpace is the free space under which a run starts with a warning
const lowFreeSpace = 1 << 30

// checkFreeSpace warns when the output volume is nearly full. Running out of
// space mid-file surfaces as a fetch error, so this only informs.
func (d *Downloader) checkFreeSpace(outputRoot string) {
	free, err := storage.FreeSpace(outputRoot)
	if err != nil {
		d.logger.WithError(err).Debug("Could not determine free disk space")
		return
	}
	if free < lowFreeSpace {
		d.logger.WarnWithFields("Low disk space on output volume", map[string]interface{}{
			"path": outputRoot,
			"free": ui.MustFormatSize(int64(free)),
		})
	}
}

func (d *Downloader) authenticate(ctx context.Context) error {
	if d.creds.Login == "" {
		return errors.NewUsageError("a login is required")
	}
	return d.auth.Authenticate(ctx, d.creds)
}

// plan creates the course and section directories and lays out one job per
// video. Videos whose sanitized name repeats a destination already planned
// are returned as duplicates; only the first one is downloaded.
func (d *Downloader) plan(course *extract.Catalog, outputRoot string) ([]downloader.Job, []downloader.Job, error) {
	courseName, err := storage.SafeName(course.Title)
	if err != nil {
		return nil, nil, err
	}
	courseDir := filepath.Join(outputRoot, courseName)

	var jobs, duplicates []downloader.Job
	planned := make(map[string]bool)
	for _, key := range course.SectionKeys() {
		sectionName, err := storage.SafeName(key)
		if err != nil {
			return nil, nil, err
		}
		sectionDir := filepath.Join(courseDir, sectionName)
		if err := storage.EnsureDir(sectionDir); err != nil {
			return nil, nil, errors.NewFetchError("failed to create directory", "", sectionDir, 0, err)
		}

		for _, video := range course.Sections[key] {
			videoName, err := storage.SafeName(video.Name)
			if err != nil {
				return nil, nil, err
			}
			job := downloader.Job{
				Index:   len(jobs),
				Section: key,
				Name:    video.Name,
				PageURL: video.PageURL,
				Dest:    filepath.Join(sectionDir, videoName),
			}
			if planned[job.Dest] {
				duplicates = append(duplicates, job)
				continue
			}
			planned[job.Dest] = true
			jobs = append(jobs, job)
		}
	}
	return jobs, duplicates, nil
}

func (d *Downloader) runSequential(ctx context.Context, jobs []downloader.Job, report *Report, display *ui.RunDisplay) error {
	for _, job := range jobs {
		tally, err := d.processJob(ctx, job)
		d.record(ctx, report, display, job, tally, err)
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.cfg.Download.ContinueOnError {
			return err
		}
	}
	return nil
}

func (d *Downloader) runConcurrent(ctx context.Context, jobs []downloader.Job, report *Report, display *ui.RunDisplay) error {
	pool := downloader.NewWorkerPool(ctx, d.cfg.Download.Workers, d.processJob, d.logger)
	pool.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range pool.Results() {
			d.record(ctx, report, display, result.Job, result.Tally, result.Error)
		}
	}()

	for _, job := range jobs {
		if err := pool.Submit(job); err != nil {
			d.logger.WithError(err).Debug("Stopped submitting jobs")
			break
		}
	}

	pool.Stop()
	wg.Wait()

	return ctx.Err()
}

func (d *Downloader) processJob(ctx context.Context, job downloader.Job) (downloader.Tally, error) {
	d.logger.DebugWithFields("Processing video", map[string]interface{}{
		"section": job.Section,
		"name":    job.Name,
		"url":     job.PageURL,
	})
	return d.DownloadVideo(ctx, job.PageURL, job.Dest, false)
}

// record folds one job outcome into the report. Cancellation is not a
// failure of the job.
func (d *Downloader) record(ctx context.Context, report *Report, display *ui.RunDisplay, job downloader.Job, tally downloader.Tally, err error) {
	report.Downloaded += tally.Downloaded
	report.Skipped += tally.Skipped
	report.Bytes += tally.Bytes

	switch {
	case err != nil && ctx.Err() != nil:
	case err != nil:
		report.addFailure(job.Name, job.PageURL, job.Dest, err)
		display.FailDownload()
		// fetch failures are logged by the fetcher
		if !errors.IsType(err, errors.ErrorTypeFetch) {
			logger.LogDownload(d.logger, job.PageURL, job.Dest, false, "", err)
		}
	case tally.Downloaded > 0:
		display.CompleteDownload(tally.Bytes)
	default:
		display.SkipDownload()
	}
}

func (d *Downloader) fetch(ctx context.Context, rawURL, dest string, tally downloader.Tally) (downloader.Tally, error) {
	outcome, err := d.fetcher.Fetch(ctx, rawURL, dest)
	if err != nil {
		return tally, err
	}
	if outcome.Status == fetcher.Skipped {
		tally.Skipped++
	} else {
		tally.Downloaded++
		tally.Bytes += outcome.Bytes
	}
	return tally, nil
}

// materialsDirName is the page title, or the last segment of the page path
func materialsDirName(title string, pageURL *url.URL) string {
	if title != "" {
		return title
	}
	segment := path.Base(strings.TrimSuffix(pageURL.Path, "/"))
	if segment == "." || segment == "/" {
		return pageURL.Host
	}
	return segment
}
