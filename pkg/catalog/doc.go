// Package catalog drives a whole download run.
//
// A Downloader logs into the course site once, reads the course list page,
// lays out one directory per section and then hands every lesson to either
// a sequential loop or the worker pool:
//
//	d, err := catalog.New(cfg, site.Credentials{Login: "me", Password: pw}, log)
//	if err != nil {
//	    return err
//	}
//	report, err := d.DownloadList(ctx, "http://cartoonsmart.com/course/drawing/", "out")
//
// Each lesson page either embeds a player, which is resolved to a media URL
// and saved as <lesson><ext>, or offers material buttons, which are saved
// into a <lesson>/ directory under their own file names. Files already on
// disk are skipped, so an interrupted run can simply be started again.
//
// The returned Report lists every failed item with its page URL and target
// path and can be saved as JSON with Report.Save.
package catalog
