package pipeline

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
)

func TestApplyHeaderRulesSetAndRemove(t *testing.T) {
	h := http.Header{}
	h.Set("X-Old", "value")

	rules := []TransformRule{
		{Kind: TransformHeader, Direction: DirectionRequest, Op: OpSet, Name: "X-New", Value: "added"},
		{Kind: TransformHeader, Direction: DirectionRequest, Op: OpRemove, Name: "X-Old"},
	}
	ApplyHeaderRules(rules, h, DirectionRequest)

	if h.Get("X-New") != "added" {
		t.Error("expected X-New to be set")
	}
	if h.Get("X-Old") != "" {
		t.Error("expected X-Old to be removed")
	}
}

func TestApplyQueryRulesRename(t *testing.T) {
	u, _ := url.Parse("http://x/y?old=1")
	rules := []TransformRule{{Kind: TransformQueryParam, Direction: DirectionRequest, Op: OpRename, Name: "old", Value: "new"}}
	ApplyQueryRules(rules, u)

	if u.Query().Get("new") != "1" || u.Query().Get("old") != "" {
		t.Errorf("expected rename old->new, got %v", u.Query())
	}
}

func TestApplyBodyRulesSetsDotPath(t *testing.T) {
	body := []byte(`{"user":{"name":"a"}}`)
	rules := []TransformRule{{Kind: TransformBody, Direction: DirectionRequest, Op: OpSet, Name: "user.email", Value: "a@example.com"}}

	out := ApplyBodyRules(rules, body, DirectionRequest)

	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	user := doc["user"].(map[string]interface{})
	if user["email"] != "a@example.com" {
		t.Errorf("expected email to be set via dot path, got %v", doc)
	}
}

func TestConvertContentTypeJSONToForm(t *testing.T) {
	body := []byte(`{"a":"1","b":"2"}`)
	out, err := ConvertContentType(body, "application/json", "application/x-www-form-urlencoded")
	if err != nil {
		t.Fatalf("ConvertContentType failed: %v", err)
	}
	values, err := url.ParseQuery(string(out))
	if err != nil {
		t.Fatalf("expected valid form encoding: %v", err)
	}
	if values.Get("a") != "1" || values.Get("b") != "2" {
		t.Errorf("unexpected form values: %v", values)
	}
}
