package catalog

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"coursedl/pkg/storage"
)

// Failure records one item that could not be downloaded, with enough
// context to retry it by hand
type Failure struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Path    string `json:"path"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

// Report summarizes a run
type Report struct {
	RunID      string    `json:"run_id"`
	Course     string    `json:"course"`
	Source     string    `json:"source"`
	Total      int       `json:"total"`
	Downloaded int       `json:"downloaded"`
	Skipped    int       `json:"skipped"`
	Bytes      int64     `json:"bytes"`
	Failures   []Failure `json:"failures,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func newReport(source string) *Report {
	return &Report{RunID: newRunID(), Source: source, StartedAt: time.Now()}
}

// newRunID returns a time-ordered identifier that ties log lines to a report
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return id.String()
}

func (r *Report) addFailure(name, url, path string, err error) {
	r.Failures = append(r.Failures, Failure{
		Name:    name,
		URL:     url,
		Path:    path,
		Message: err.Error(),
		Err:     err,
	})
}

// Err joins every recorded failure, or returns nil when there were none
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return fmt.Errorf("%d of %d items failed: %w", len(r.Failures), r.Total, stderrors.Join(errs...))
}

// Save writes the report as indented JSON, replacing path atomically
func (r *Report) Save(path string) error {
	if err := storage.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary report file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync report file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close report file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace report file: %w", err)
	}
	return nil
}

// LoadReport reads a report written by Save
func LoadReport(path string) (*Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report file: %w", err)
	}
	defer file.Close()

	var r Report
	if err := json.NewDecoder(file).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

// DefaultReportPath is where a run report for course is kept when no path
// is given: the per-user data directory of the current OS
func DefaultReportPath(course string) (string, error) {
	dataDir, err := dataDirectory()
	if err != nil {
		return "", fmt.Errorf("failed to get data directory: %w", err)
	}
	name := storage.Sanitize(course)
	if name == "" {
		name = "run"
	}
	return filepath.Join(dataDir, "reports", name+".report.json"), nil
}

func dataDirectory() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "coursedl"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "coursedl"), nil
	default:
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			return filepath.Join(xdgDataHome, "coursedl"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "coursedl"), nil
	}
}
