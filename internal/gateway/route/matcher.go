package route

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Matcher compiles a pattern once and matches/extracts params from a path.
type Matcher interface {
	Matches(path string) bool
	ExtractParams(path string) map[string]string
}

type exactMatcher struct{ pattern string }

func (m exactMatcher) Matches(path string) bool                   { return path == m.pattern }
func (m exactMatcher) ExtractParams(path string) map[string]string { return map[string]string{} }

type prefixMatcher struct{ prefix string }

func (m prefixMatcher) Matches(path string) bool { return strings.HasPrefix(path, m.prefix) }
func (m prefixMatcher) ExtractParams(path string) map[string]string {
	return map[string]string{"*": strings.TrimPrefix(path, m.prefix)}
}

type regexMatcher struct{ re *regexp.Regexp }

func (m regexMatcher) Matches(path string) bool { return m.re.MatchString(path) }
func (m regexMatcher) ExtractParams(path string) map[string]string {
	match := m.re.FindStringSubmatch(path)
	if match == nil {
		return map[string]string{}
	}
	params := map[string]string{}
	for i, name := range m.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		params[name] = match[i]
	}
	return params
}

type wildcardMatcher struct{ pattern string }

func (m wildcardMatcher) Matches(path string) bool {
	ok, err := filepath.Match(m.pattern, path)
	return err == nil && ok
}
func (m wildcardMatcher) ExtractParams(path string) map[string]string { return map[string]string{} }

// templateParamRe finds {name} placeholders in a template pattern.
var templateParamRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

type templateMatcher struct{ re *regexp.Regexp }

func (m templateMatcher) Matches(path string) bool { return m.re.MatchString(path) }
func (m templateMatcher) ExtractParams(path string) map[string]string {
	match := m.re.FindStringSubmatch(path)
	if match == nil {
		return map[string]string{}
	}
	params := map[string]string{}
	for i, name := range m.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		params[name] = match[i]
	}
	return params
}

// compileTemplate turns "/users/{id}/orders/{order_id}" into a regex with
// named capture groups, compiled once and cached by Compiler.
func compileTemplate(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	// QuoteMeta escapes the braces; unescape them back so templateParamRe
	// can still find the placeholders in their original form.
	escaped = strings.NewReplacer(`\{`, `{`, `\}`, `}`).Replace(escaped)

	exprBuilder := templateParamRe.ReplaceAllStringFunc(escaped, func(tok string) string {
		name := templateParamRe.FindStringSubmatch(tok)[1]
		return fmt.Sprintf("(?P<%s>[^/]+)", name)
	})

	return regexp.Compile("^" + exprBuilder + "$")
}

// Compiler builds Matchers from Routes, caching compiled patterns up to a
// bounded size (simple FIFO eviction; route tables are small and static in
// practice, so this mostly guards against pathological dynamic registration).
type Compiler struct {
	mu       sync.Mutex
	cache    map[string]Matcher
	order    []string
	maxSize  int
}

func NewCompiler(maxSize int) *Compiler {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &Compiler{cache: map[string]Matcher{}, maxSize: maxSize}
}

func (c *Compiler) Compile(r Route) (Matcher, error) {
	key := fmt.Sprintf("%d:%s", r.Kind, r.Pattern)

	c.mu.Lock()
	if m, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	m, err := buildMatcher(r)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.cache, oldest)
	}
	c.cache[key] = m
	c.order = append(c.order, key)

	return m, nil
}

func buildMatcher(r Route) (Matcher, error) {
	switch r.Kind {
	case MatchExact:
		return exactMatcher{pattern: r.Pattern}, nil
	case MatchPrefix:
		return prefixMatcher{prefix: r.Pattern}, nil
	case MatchRegex:
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("route: invalid regex pattern %q: %w", r.Pattern, err)
		}
		return regexMatcher{re: re}, nil
	case MatchWildcard:
		return wildcardMatcher{pattern: r.Pattern}, nil
	case MatchTemplate:
		re, err := compileTemplate(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("route: invalid template pattern %q: %w", r.Pattern, err)
		}
		return templateMatcher{re: re}, nil
	default:
		return nil, fmt.Errorf("route: unknown match kind %d", r.Kind)
	}
}
