package transform

import (
	"fmt"
	"regexp"

	"github.com/edgeflare/txeventq/pkg/pipeline/record"
)

// ReplaceConfig renames topics and header keys.
type ReplaceConfig struct {
	// Exact topic renames
	Topics map[string]string `mapstructure:"topics"`

	// Exact header key renames
	Headers map[string]string `mapstructure:"headers"`

	// Regex replacements
	Regex []RegexReplacement `mapstructure:"regex"`
}

// RegexReplacement defines a regex-based replacement rule
type RegexReplacement struct {
	Type    string `mapstructure:"type"`    // "topic" or "header"
	Pattern string `mapstructure:"pattern"` // Regex pattern to match
	Replace string `mapstructure:"replace"` // Replacement string (can use regex groups)
}

func (c *ReplaceConfig) Validate() error {
	if len(c.Topics) == 0 && len(c.Headers) == 0 && len(c.Regex) == 0 {
		return fmt.Errorf("at least one replacement configuration is required")
	}

	for _, regex := range c.Regex {
		if regex.Type != "topic" && regex.Type != "header" {
			return fmt.Errorf("invalid replacement type: %s", regex.Type)
		}
		if _, err := regexp.Compile(regex.Pattern); err != nil {
			return fmt.Errorf("invalid regex pattern %s: %w", regex.Pattern, err)
		}
	}
	return nil
}

func (c *ReplaceConfig) Type() string {
	return TypeReplace
}

type compiledReplacement struct {
	kind    string
	re      *regexp.Regexp
	replace string
}

// Replace creates a Func that performs the configured replacements on a
// copy of the record.
func Replace(config *ReplaceConfig) Func {
	if err := config.Validate(); err != nil {
		return func(r *record.Record) (*record.Record, error) {
			return r, fmt.Errorf("invalid replace configuration: %w", err)
		}
	}

	rules := make([]compiledReplacement, len(config.Regex))
	for i, regex := range config.Regex {
		rules[i] = compiledReplacement{kind: regex.Type, re: regexp.MustCompile(regex.Pattern), replace: regex.Replace}
	}

	return func(r *record.Record) (*record.Record, error) {
		current := r.Clone()

		if topic, ok := config.Topics[current.Topic]; ok {
			current.Topic = topic
		}
		for i, h := range current.Headers {
			if key, ok := config.Headers[h.Key]; ok {
				current.Headers[i].Key = key
			}
		}

		for _, rule := range rules {
			switch rule.kind {
			case "topic":
				current.Topic = rule.re.ReplaceAllString(current.Topic, rule.replace)
			case "header":
				for i := range current.Headers {
					current.Headers[i].Key = rule.re.ReplaceAllString(current.Headers[i].Key, rule.replace)
				}
			}
		}

		return &current, nil
	}
}
