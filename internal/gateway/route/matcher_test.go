package route

import "testing"

func TestExactMatcher(t *testing.T) {
	m := exactMatcher{pattern: "/health"}
	if !m.Matches("/health") {
		t.Error("expected exact match")
	}
	if m.Matches("/health/") {
		t.Error("expected no match on trailing slash")
	}
}

func TestPrefixMatcherCapturesRemainder(t *testing.T) {
	m := prefixMatcher{prefix: "/api/"}
	if !m.Matches("/api/users/1") {
		t.Error("expected prefix match")
	}
	params := m.ExtractParams("/api/users/1")
	if params["*"] != "users/1" {
		t.Errorf("expected remainder 'users/1', got %q", params["*"])
	}
}

func TestTemplateMatcherExtractsNamedParams(t *testing.T) {
	c := NewCompiler(10)
	r := Route{Kind: MatchTemplate, Pattern: "/users/{id}/orders/{order_id}"}
	matcher, err := c.Compile(r)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	path := "/users/42/orders/99"
	if !matcher.Matches(path) {
		t.Fatal("expected template to match")
	}

	params := matcher.ExtractParams(path)
	if params["id"] != "42" || params["order_id"] != "99" {
		t.Errorf("unexpected params: %v", params)
	}
}

func TestCompilerCachesByPatternAndKind(t *testing.T) {
	c := NewCompiler(10)
	r := Route{Kind: MatchRegex, Pattern: `^/v1/.*$`}

	m1, err := c.Compile(r)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	m2, err := c.Compile(r)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if m1 != m2 {
		t.Error("expected identical compiled matcher to be reused from cache")
	}
}

func TestCompilerEvictsOldestBeyondMaxSize(t *testing.T) {
	c := NewCompiler(1)

	if _, err := c.Compile(Route{Kind: MatchExact, Pattern: "/a"}); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, err := c.Compile(Route{Kind: MatchExact, Pattern: "/b"}); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if len(c.cache) != 1 {
		t.Errorf("expected cache bounded to size 1, got %d entries", len(c.cache))
	}
}
