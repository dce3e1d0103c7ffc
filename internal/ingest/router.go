package ingest

import (
	"fmt"
	"regexp"
	"strings"
)

// StreamSuffix is appended to every classifier to form a stream name
const StreamSuffix = "-events"

var (
	classifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	prefixPattern     = regexp.MustCompile(`^[a-z0-9_-]*$`)
	classifierMapper  = strings.NewReplacer(" ", "-", ".", "-", "/", "-")
)

// SanitizeClassifier normalizes a classifier into the form used in stream
// names. It reports false when the result is not a usable stream segment.
func SanitizeClassifier(raw string) (string, bool) {
	s := classifierMapper.Replace(strings.ToLower(strings.TrimSpace(raw)))
	if !classifierPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// Router maps event classifiers to stream names. With no allowed list every
// well formed classifier routes; otherwise only the listed ones do.
type Router struct {
	prefix  string
	allowed map[string]struct{}
}

// NewRouter creates a router prefixing every stream with prefix
func NewRouter(prefix string, allowed []string) (*Router, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("invalid stream prefix %q", prefix)
	}

	r := &Router{prefix: prefix}
	if len(allowed) > 0 {
		r.allowed = make(map[string]struct{}, len(allowed))
		for _, a := range allowed {
			c, ok := SanitizeClassifier(a)
			if !ok {
				return nil, fmt.Errorf("invalid allowed classifier %q", a)
			}
			r.allowed[c] = struct{}{}
		}
	}
	return r, nil
}

// Route returns the stream for ev. The same classifier always yields the same
// stream; classifiers that cannot be routed yield ErrUnroutable.
func (r *Router) Route(ev EnrichedEvent) (string, error) {
	return r.Stream(ev.Classifier)
}

// Stream returns the stream name for a raw classifier
func (r *Router) Stream(classifier string) (string, error) {
	c, ok := SanitizeClassifier(classifier)
	if !ok {
		return "", fmt.Errorf("%w: classifier %q is not a valid stream name", ErrUnroutable, classifier)
	}
	if r.allowed != nil {
		if _, ok := r.allowed[c]; !ok {
			return "", fmt.Errorf("%w: classifier %q is not recognized", ErrUnroutable, classifier)
		}
	}
	return r.prefix + c + StreamSuffix, nil
}
