package logging

import "regexp"

// Sanitizer redacts credentials from log output. Harness output can
// echo environment or config contents, so everything logged passes
// through here.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Anthropic
		`sk-ant-[a-zA-Z0-9-]{40,}`,
		// OpenAI
		`sk-[A-Za-z0-9]{20,}`,
		// Google AI
		`AIza[a-zA-Z0-9_-]{35}`,
		// GitHub tokens
		`gh[pous]_[A-Za-z0-9]{36}`,
		// AWS access key
		`AKIA[0-9A-Z]{16}`,
		// Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic key/secret/token/password assignments
		`(?i)(api[_-]?key|secret|token|password)["'\s:=]+[^\s"']{8,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
