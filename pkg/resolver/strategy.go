package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"coursedl/pkg/config"
)

// Strategy extracts a media URL from a player page body
type Strategy interface {
	Name() string
	Extract(body []byte) (string, error)
}

// embeddedConfig delimits the player's inline configuration object
var embeddedConfig = regexp.MustCompile(`var a=(\{"[\s\S]*?);if\(`)

// StructuredStrategy decodes the player's embedded JSON configuration and
// picks request.files.h264[tier].url for the first tier present in Qualities
type StructuredStrategy struct {
	Qualities []string
}

func (s *StructuredStrategy) Name() string { return config.StrategyStructured }

type playerConfig struct {
	Request struct {
		Files struct {
			H264 map[string]struct {
				URL string `json:"url"`
			} `json:"h264"`
		} `json:"files"`
	} `json:"request"`
}

func (s *StructuredStrategy) Extract(body []byte) (string, error) {
	m := embeddedConfig.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("embedded player configuration not found")
	}

	var cfg playerConfig
	if err := json.Unmarshal(m[1], &cfg); err != nil {
		return "", fmt.Errorf("failed to decode player configuration: %w", err)
	}

	files := cfg.Request.Files.H264
	for _, tier := range s.Qualities {
		if f, ok := files[tier]; ok && f.URL != "" {
			return f.URL, nil
		}
	}

	available := make([]string, 0, len(files))
	for tier := range files {
		available = append(available, tier)
	}
	return "", fmt.Errorf("no quality tier of %v available (have %v)", s.Qualities, available)
}

// PatternStrategy scans the body for signed CDN URLs and takes the last
// match. That the last match is the best quality is an assumption about the
// player page layout, not something the page guarantees.
type PatternStrategy struct {
	pattern *regexp.Regexp
}

// NewPatternStrategy compiles the URL pattern. A match may include the
// surrounding `"url":"..."` JSON key and quotes; they are stripped.
func NewPatternStrategy(pattern string) (*PatternStrategy, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid video pattern: %w", err)
	}
	return &PatternStrategy{pattern: re}, nil
}

func (s *PatternStrategy) Name() string { return config.StrategyPattern }

func (s *PatternStrategy) Extract(body []byte) (string, error) {
	matches := s.pattern.FindAll(body, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no media URL matches %s", s.pattern)
	}

	last := string(matches[len(matches)-1])
	if i := strings.Index(last, `"url":`); i >= 0 {
		last = last[i+len(`"url":`):]
	}
	return strings.Trim(last, `"`), nil
}

// NewStrategy builds the strategy selected in cfg
func NewStrategy(cfg *config.ResolverConfig) (Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyStructured, "":
		return &StructuredStrategy{Qualities: cfg.Qualities}, nil
	case config.StrategyPattern:
		return NewPatternStrategy(cfg.VideoPattern)
	default:
		return nil, fmt.Errorf("unknown resolver strategy %q", cfg.Strategy)
	}
}
