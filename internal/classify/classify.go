// Package classify turns free-text event lines into structured matches using
// ordered pattern rules. Rules are validated once at load time into an
// immutable Classifier; extraction problems are configuration errors surfaced
// by Compile, never by Classify.
package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/m3047/totalizer/internal/bucket"
	"github.com/m3047/totalizer/internal/errors"
)

// MatchAny is the matched value for rules whose pattern captures nothing:
// the rule counts every matching line under one category.
const MatchAny = "any"

// maxMatchedLen bounds the matched value so composed keys stay within the
// 255-byte limit of the DNS names the lookup protocol carries them in.
const maxMatchedLen = 64

// RuleConfig is one ordered classification rule as loaded from config.
type RuleConfig struct {
	Pattern  string `yaml:"pattern"`  // regular expression evaluated against the line
	Prefix   string `yaml:"prefix"`   // totalizer namespace for matching lines
	Template string `yaml:"template"` // capture substitution producing the matched value, e.g. "${path},${status}"
}

// Match is the classification outcome for a line.
type Match struct {
	Prefix  string
	Matched string
}

type rule struct {
	re       *regexp.Regexp
	prefix   string
	template string
	anyMatch bool // pattern has no captures and no template; emit MatchAny
}

// Classifier evaluates rules strictly in declaration order; the first
// structural match wins.
type Classifier struct {
	rules []rule
}

// Compile validates a rule set and builds an immutable classifier. Every
// template reference must name a capture group its pattern defines, and no
// literal may contain the reserved key separator.
func Compile(configs []RuleConfig) (*Classifier, error) {
	if len(configs) == 0 {
		return nil, errors.ConfigErrorf("rules", "no classification rules defined")
	}

	rules := make([]rule, 0, len(configs))
	for i, cfg := range configs {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, errors.ConfigErrorf("rules", "rule %d: bad pattern: %v", i, err)
		}

		if cfg.Prefix == "" {
			return nil, errors.ConfigErrorf("rules", "rule %d: prefix is required", i)
		}
		if strings.Contains(cfg.Prefix, bucket.Separator) {
			return nil, errors.ConfigErrorf("rules", "rule %d: prefix %q contains reserved separator", i, cfg.Prefix)
		}
		if strings.Contains(cfg.Template, bucket.Separator) {
			return nil, errors.ConfigErrorf("rules", "rule %d: template %q contains reserved separator", i, cfg.Template)
		}

		template := cfg.Template
		anyMatch := false
		if template == "" {
			// Default extraction is the first capture group, mirroring the
			// single-capture convention of the rule language this replaces.
			if re.NumSubexp() >= 1 {
				template = "${1}"
			} else {
				anyMatch = true
			}
		}
		if !anyMatch {
			if err := validateTemplate(re, template); err != nil {
				return nil, errors.ConfigErrorf("rules", "rule %d: %v", i, err)
			}
		}

		rules = append(rules, rule{re: re, prefix: cfg.Prefix, template: template, anyMatch: anyMatch})
	}
	return &Classifier{rules: rules}, nil
}

// Classify evaluates the line against the rule set. Total over any input:
// unmatched or malformed input yields ok == false, never an error.
func (c *Classifier) Classify(line string) (Match, bool) {
	for _, r := range c.rules {
		loc := r.re.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		if r.anyMatch {
			return Match{Prefix: r.prefix, Matched: MatchAny}, true
		}
		matched := sanitize(string(r.re.ExpandString(nil, r.template, line, loc)))
		if matched == "" {
			matched = MatchAny
		}
		return Match{Prefix: r.prefix, Matched: matched}, true
	}
	return Match{}, false
}

// Rules reports the number of compiled rules.
func (c *Classifier) Rules() int {
	return len(c.rules)
}

// sanitize makes an extracted value safe for key composition: cut at the
// first separator, bound the length, fold case (the lookup protocol is
// case-insensitive).
func sanitize(value string) string {
	if i := strings.Index(value, bucket.Separator); i >= 0 {
		value = value[:i]
	}
	if len(value) > maxMatchedLen {
		value = value[:maxMatchedLen]
	}
	return strings.ToLower(value)
}

// validateTemplate checks that every $name / ${name} reference in the
// template resolves to a capture group of re.
func validateTemplate(re *regexp.Regexp, template string) error {
	names := make(map[string]bool)
	for _, name := range re.SubexpNames() {
		if name != "" {
			names[name] = true
		}
	}

	for i := 0; i < len(template); {
		if template[i] != '$' {
			i++
			continue
		}
		i++
		if i < len(template) && template[i] == '$' { // "$$" literal
			i++
			continue
		}
		ref, width, err := templateRef(template[i:])
		if err != nil {
			return err
		}
		i += width

		if idx, numErr := strconv.Atoi(ref); numErr == nil {
			if idx < 0 || idx > re.NumSubexp() {
				return fmt.Errorf("template references group %d, pattern defines %d", idx, re.NumSubexp())
			}
			continue
		}
		if !names[ref] {
			return fmt.Errorf("template references undefined group %q", ref)
		}
	}
	return nil
}

// templateRef extracts one reference starting right after a '$'. Returns the
// reference text and how many template bytes it consumed.
func templateRef(rest string) (string, int, error) {
	if rest == "" {
		return "", 0, fmt.Errorf("template has dangling '$'")
	}
	if rest[0] == '{' {
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return "", 0, fmt.Errorf("template has unterminated '${'")
		}
		ref := rest[1:end]
		if ref == "" || !isRefName(ref) {
			return "", 0, fmt.Errorf("template has invalid group reference %q", ref)
		}
		return ref, end + 1, nil
	}
	end := 0
	for end < len(rest) && isRefByte(rest[end]) {
		end++
	}
	if end == 0 {
		return "", 0, fmt.Errorf("template has invalid group reference after '$'")
	}
	return rest[:end], end, nil
}

func isRefName(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isRefByte(s[i]) {
			return false
		}
	}
	return true
}

func isRefByte(b byte) bool {
	return b == '_' ||
		('a' <= b && b <= 'z') ||
		('A' <= b && b <= 'Z') ||
		('0' <= b && b <= '9')
}
