package pipeline

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// TransformKind selects what part of the request/response a Rule mutates.
type TransformKind string

const (
	TransformHeader      TransformKind = "HEADER"
	TransformQueryParam  TransformKind = "QUERY_PARAM"
	TransformBody        TransformKind = "BODY"
	TransformPath        TransformKind = "PATH"
	TransformContentType TransformKind = "CONTENT_TYPE"
)

// TransformOp is the mutation a Rule performs.
type TransformOp string

const (
	OpSet    TransformOp = "set"
	OpAdd    TransformOp = "add"
	OpRemove TransformOp = "remove"
	OpRename TransformOp = "rename"
	OpRegex  TransformOp = "regex"
)

// Direction controls whether a rule runs on the inbound request, the
// outbound response, or both.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
	DirectionBoth     Direction = "both"
)

// TransformRule is one ordered mutation. Not every field applies to every
// Kind; see the Kind-specific Apply* functions.
type TransformRule struct {
	Kind      TransformKind
	Direction Direction
	Op        TransformOp
	Name      string // header/query param name, or dot-path for BODY
	Value     string
	Pattern   *regexp.Regexp // for OpRegex
	Target    string         // target content type for CONTENT_TYPE
}

func (r TransformRule) appliesTo(dir Direction) bool {
	return r.Direction == DirectionBoth || r.Direction == dir
}

// ApplyHeaderRules mutates header in place per every HEADER rule matching
// dir, in order.
func ApplyHeaderRules(rules []TransformRule, header http.Header, dir Direction) {
	for _, r := range rules {
		if r.Kind != TransformHeader || !r.appliesTo(dir) {
			continue
		}
		switch r.Op {
		case OpSet:
			header.Set(r.Name, r.Value)
		case OpAdd:
			header.Add(r.Name, r.Value)
		case OpRemove:
			header.Del(r.Name)
		case OpRename:
			if v := header.Get(r.Name); v != "" {
				header.Del(r.Name)
				header.Set(r.Value, v)
			}
		case OpRegex:
			if r.Pattern != nil {
				for _, v := range header.Values(r.Name) {
					header.Set(r.Name, r.Pattern.ReplaceAllString(v, r.Value))
				}
			}
		}
	}
}

// ApplyQueryRules mutates the request's query string. Request-only per the
// pipeline contract.
func ApplyQueryRules(rules []TransformRule, u *url.URL) {
	q := u.Query()
	for _, r := range rules {
		if r.Kind != TransformQueryParam || !r.appliesTo(DirectionRequest) {
			continue
		}
		switch r.Op {
		case OpSet:
			q.Set(r.Name, r.Value)
		case OpAdd:
			q.Add(r.Name, r.Value)
		case OpRemove:
			q.Del(r.Name)
		case OpRename:
			if v := q.Get(r.Name); v != "" {
				q.Del(r.Name)
				q.Set(r.Value, v)
			}
		}
	}
	u.RawQuery = q.Encode()
}

// ApplyPathRules mutates the request path. Request-only.
func ApplyPathRules(rules []TransformRule, u *url.URL) {
	for _, r := range rules {
		if r.Kind != TransformPath || !r.appliesTo(DirectionRequest) {
			continue
		}
		switch r.Op {
		case OpSet:
			u.Path = r.Value
		case OpRegex:
			if r.Pattern != nil {
				u.Path = r.Pattern.ReplaceAllString(u.Path, r.Value)
			}
		}
	}
}

// ApplyBodyRules mutates a JSON body using dot-path addressing (e.g.
// "user.email"). Non-JSON bodies are left untouched.
func ApplyBodyRules(rules []TransformRule, body []byte, dir Direction) []byte {
	var doc map[string]interface{}
	if len(body) == 0 || json.Unmarshal(body, &doc) != nil {
		return body
	}

	changed := false
	for _, r := range rules {
		if r.Kind != TransformBody || !r.appliesTo(dir) {
			continue
		}
		switch r.Op {
		case OpSet, OpAdd:
			setDotPath(doc, r.Name, r.Value)
			changed = true
		case OpRemove:
			removeDotPath(doc, r.Name)
			changed = true
		}
	}
	if !changed {
		return body
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}

func splitDotPath(path string) []string {
	return strings.Split(path, ".")
}

func setDotPath(doc map[string]interface{}, path, value string) {
	parts := splitDotPath(path)
	cur := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[p] = next
		}
		cur = next
	}
}

func removeDotPath(doc map[string]interface{}, path string) {
	parts := splitDotPath(path)
	cur := doc
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(cur, p)
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
}

// ConvertContentType converts JSON to form encoding, form encoding to JSON,
// and JSON to XML; any other pair returns body unchanged. JSON-to-XML
// writes nested objects as nested elements inside a <root> element. XML
// input is not parsed, so there is no XML-to-JSON conversion.
func ConvertContentType(body []byte, from, to string) ([]byte, error) {
	switch {
	case from == "application/json" && to == "application/x-www-form-urlencoded":
		var doc map[string]interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, err
		}
		values := url.Values{}
		for k, v := range doc {
			values.Set(k, toFormValue(v))
		}
		return []byte(values.Encode()), nil

	case from == "application/x-www-form-urlencoded" && to == "application/json":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		doc := map[string]interface{}{}
		for k := range values {
			doc[k] = values.Get(k)
		}
		return json.Marshal(doc)

	case from == "application/json" && to == "application/xml":
		var doc map[string]interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		buf.WriteString("<root>")
		writeXMLFragment(&buf, doc)
		buf.WriteString("</root>")
		return buf.Bytes(), nil

	default:
		return body, nil
	}
}

func toFormValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func writeXMLFragment(buf *bytes.Buffer, doc map[string]interface{}) {
	for k, v := range doc {
		if nested, ok := v.(map[string]interface{}); ok {
			buf.WriteString("<" + k + ">")
			writeXMLFragment(buf, nested)
			buf.WriteString("</" + k + ">")
			continue
		}
		buf.WriteString("<" + k + ">")
		buf.WriteString(toFormValue(v))
		buf.WriteString("</" + k + ">")
	}
}
