package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"coursedl/pkg/auth"
	"coursedl/pkg/catalog"
	"coursedl/pkg/config"
	"coursedl/pkg/errors"
	"coursedl/pkg/logger"
	"coursedl/pkg/site"
	"coursedl/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool

	// Download flags
	login      string
	password   string
	outputDir  string
	listURL    string
	videoURL   string
	concurrent bool
	workers    int
	keepGoing  bool
	noProgress bool
	strategy   string
	rateLimit  int
	reportPath string
)

// rootCmd downloads a course or a single lesson when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "coursedl (--list URL | --video URL)",
	Short: "Download course videos and materials from a course site",
	Long: `coursedl logs into a course site, walks a course listing and mirrors
every lesson video (or its downloadable materials) into a local directory
tree. Files that already exist are skipped, so an interrupted run can simply
be started again.

Credentials are taken from, in order:
  - the --login/--password flags
  - the configuration file and COURSEDL_LOGIN/COURSEDL_PASSWORD
  - the account stored with 'coursedl auth login'
  - an interactive password prompt`,
	Example: `  # Mirror a whole course into ./courses
  coursedl -l me@example.com --list https://site/course/drawing/ -o ./courses

  # Download several lessons at once and keep going past failures
  coursedl --list https://site/course/drawing/ --concurrent --workers 6 --keep-going

  # Download a single lesson
  coursedl --video https://site/lesson/intro/`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDownload,
}

// Execute runs the root command and exits 1 on any failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !stderrors.Is(err, errAlreadyReported) {
			ui.PrintError("Error", err)
		}
		os.Exit(1)
	}
}

// errAlreadyReported marks failures whose details were printed by the command
var errAlreadyReported = stderrors.New("already reported")

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.coursedl.yaml or ~/.config/coursedl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	flags := rootCmd.Flags()
	flags.StringVarP(&login, "login", "l", "", "site account login")
	flags.StringVarP(&password, "password", "p", "", "site account password")
	flags.StringVarP(&outputDir, "output", "o", "", "output directory (default: current directory)")
	flags.StringVar(&listURL, "list", "", "course listing URL to mirror")
	flags.StringVar(&videoURL, "video", "", "single lesson page URL to download")
	flags.BoolVar(&concurrent, "concurrent", false, "download lessons in parallel")
	flags.IntVar(&workers, "workers", 4, "number of parallel workers with --concurrent")
	flags.BoolVar(&keepGoing, "keep-going", false, "continue past failed lessons in sequential mode")
	flags.BoolVar(&noProgress, "no-progress", false, "disable progress bars")
	flags.StringVar(&strategy, "strategy", "", "media resolver strategy (structured, pattern)")
	flags.IntVar(&rateLimit, "rate-limit", 0, "site requests per minute (0 disables pacing)")
	flags.StringVar(&reportPath, "report", "", "where to save the failure report (default: user data directory)")

	rootCmd.MarkFlagsOneRequired("list", "video")
	rootCmd.MarkFlagsMutuallyExclusive("list", "video")

	rootCmd.SetVersionTemplate(`coursedl {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// changedFlags collects the flags given on the command line, keyed the way
// config.MergeCommandLineFlags expects
func changedFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := func(name string, value interface{}) {
		if cmd.Flags().Changed(name) {
			flags[name] = value
		}
	}

	set("login", login)
	set("password", password)
	set("output", outputDir)
	set("concurrent", concurrent)
	set("workers", workers)
	set("keep-going", keepGoing)
	set("no-progress", noProgress)
	set("strategy", strategy)
	set("rate-limit", rateLimit)
	set("log-level", logLevel)
	return flags
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	ui.SetNoColor(noColor)

	cfg, err := config.Load(configFile, changedFlags(cmd))
	if err != nil {
		return nil, errors.NewUsageError(err.Error())
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	creds, err := resolveCredentials(cfg)
	if err != nil {
		return err
	}

	root := cfg.Output.BaseDirectory
	if root == "" {
		root = "."
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dl, err := catalog.New(cfg, creds, log)
	if err != nil {
		return err
	}

	logger.LogComponentStart("coursedl", map[string]interface{}{
		"output":     root,
		"concurrent": cfg.Download.Concurrent,
		"workers":    cfg.Download.Workers,
		"strategy":   cfg.Resolver.Strategy,
	})

	var report *catalog.Report
	if listURL != "" {
		ui.PrintInfo("Course", listURL)
		report, err = dl.DownloadList(ctx, listURL, root)
	} else {
		ui.PrintInfo("Lesson", videoURL)
		report, err = dl.DownloadVideoPage(ctx, videoURL, root)
	}

	if stderrors.Is(err, context.Canceled) {
		logger.LogComponentStop("coursedl", "interrupted")
		ui.PrintWarning("Download interrupted")
		return errAlreadyReported
	}
	logger.LogComponentStop("coursedl", "finished")
	if report != nil && len(report.Failures) > 0 {
		printFailures(report)
		saveReport(report)
		return errAlreadyReported
	}
	if err != nil {
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Done: %d downloaded, %d skipped (%s)",
		report.Downloaded, report.Skipped, ui.MustFormatSize(report.Bytes)))
	return nil
}

// resolveCredentials fills in the login and password from the stored
// accounts and finally a terminal prompt, for whatever the configuration
// left empty
func resolveCredentials(cfg *config.Config) (site.Credentials, error) {
	creds := site.Credentials{Login: cfg.Credentials.Login, Password: cfg.Credentials.Password}
	if creds.Login != "" && creds.Password != "" {
		return creds, nil
	}

	if manager, err := auth.NewManager(); err == nil {
		var account *auth.Account
		if creds.Login != "" {
			account, err = manager.Retrieve(creds.Login)
		} else {
			account, err = manager.RetrieveDefault()
		}
		if err == nil {
			logger.GetLogger().WithField("login", account.Login).Debug("Using stored account")
			return site.Credentials{Login: account.Login, Password: account.Password}, nil
		}
	}

	if creds.Login == "" {
		return creds, errors.NewUsageError("no login given: use --login, COURSEDL_LOGIN or 'coursedl auth login'")
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return creds, errors.NewUsageError("no password given for " + creds.Login)
	}

	fmt.Printf("Password for %s: ", creds.Login)
	pass, err := readPassword()
	if err != nil {
		return creds, fmt.Errorf("failed to read password: %w", err)
	}
	creds.Password = pass
	return creds, nil
}

func printFailures(report *catalog.Report) {
	ui.PrintError(fmt.Sprintf("%d of %d items failed", len(report.Failures), report.Total))
	for _, f := range report.Failures {
		fmt.Fprintf(os.Stderr, "  - %s\n    url:  %s\n    path: %s\n    %s\n", f.Name, f.URL, f.Path, f.Message)
	}
	fmt.Printf("%d downloaded, %d skipped\n", report.Downloaded, report.Skipped)
}

func saveReport(report *catalog.Report) {
	path := reportPath
	if path == "" {
		name := report.Course
		if name == "" {
			name = strings.TrimRight(report.Source, "/")
			name = name[strings.LastIndex(name, "/")+1:]
		}
		var err error
		path, err = catalog.DefaultReportPath(name)
		if err != nil {
			ui.PrintWarning("Could not locate report directory", err)
			return
		}
	}

	if err := report.Save(path); err != nil {
		ui.PrintWarning("Failed to save report", err)
		return
	}
	ui.PrintInfo("Report saved", path)
}
