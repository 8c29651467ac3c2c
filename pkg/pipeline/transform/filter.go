package transform

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/edgeflare/txeventq/pkg/pipeline/record"
)

// FilterConfig keeps records by topic and headers. Topics and ExcludeTopics
// accept glob patterns.
type FilterConfig struct {
	TopicPattern   string   `mapstructure:"topicPattern"`
	Topics         []string `mapstructure:"topics"`
	ExcludeTopics  []string `mapstructure:"excludeTopics"`
	RequireHeaders []string `mapstructure:"requireHeaders"`
}

func (c *FilterConfig) Validate() error {
	if len(c.Topics) == 0 && len(c.ExcludeTopics) == 0 &&
		c.TopicPattern == "" && len(c.RequireHeaders) == 0 {
		return fmt.Errorf("at least one filter criteria required")
	}

	if c.TopicPattern != "" {
		if _, err := regexp.Compile(c.TopicPattern); err != nil {
			return fmt.Errorf("invalid topic pattern: %w", err)
		}
	}
	for _, p := range slices.Concat(c.Topics, c.ExcludeTopics) {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid topic glob %q: %w", p, err)
		}
	}
	return nil
}

func (c *FilterConfig) Type() string {
	return TypeFilter
}

func Filter(config *FilterConfig) Func {
	if err := config.Validate(); err != nil {
		return func(*record.Record) (*record.Record, error) {
			return nil, fmt.Errorf("invalid filter configuration: %w", err)
		}
	}

	var topicRegex *regexp.Regexp
	if config.TopicPattern != "" {
		topicRegex = regexp.MustCompile(config.TopicPattern)
	}

	return func(r *record.Record) (*record.Record, error) {
		if r == nil || r.Topic == "" {
			return nil, fmt.Errorf("invalid record: missing topic")
		}

		if matchesAny(config.ExcludeTopics, r.Topic) {
			return nil, nil
		}
		if len(config.Topics) > 0 && !matchesAny(config.Topics, r.Topic) {
			return nil, nil
		}
		if topicRegex != nil && !topicRegex.MatchString(r.Topic) {
			return nil, nil
		}
		for _, h := range config.RequireHeaders {
			if _, ok := r.LastHeader(h); !ok {
				return nil, nil
			}
		}
		return r, nil
	}
}

func matchesAny(globs []string, topic string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, topic); ok {
			return true
		}
	}
	return false
}
