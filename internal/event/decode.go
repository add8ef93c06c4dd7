package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// MaxBodyBytes caps a single webhook body.
const MaxBodyBytes = 1 << 20

var errNotObject = errors.New("body is not a JSON object")

// DecodeBody turns a webhook request body into a nested record. JSON objects
// are used as-is; url-encoded and multipart forms are expanded so that
// data[CALL_ID]=x becomes {"data": {"CALL_ID": "x"}}.
func DecodeBody(w http.ResponseWriter, req *http.Request) (map[string]any, error) {
	req.Body = http.MaxBytesReader(w, req.Body, MaxBodyBytes)

	mediaType := "application/json"
	if ct := req.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil, fmt.Errorf("parse content type: %w", err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := req.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return expandForm(req.PostForm), nil
	case "multipart/form-data":
		if err := req.ParseMultipartForm(MaxBodyBytes); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		return expandForm(url.Values(req.MultipartForm.Value)), nil
	default:
		var raw any
		dec := json.NewDecoder(req.Body)
		// Numeric ids above 2^53 must not round through float64.
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, errNotObject
		}
		return obj, nil
	}
}

// expandForm nests bracketed form keys. Keys are applied in sorted order so
// the result does not depend on map iteration.
func expandForm(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		vals := values[key]
		if len(vals) == 0 {
			continue
		}
		var v any = vals[0]
		if len(vals) > 1 {
			list := make([]any, len(vals))
			for i, s := range vals {
				list[i] = s
			}
			v = list
		}
		setPath(out, splitKey(key), v)
	}
	return out
}

// splitKey splits "a[b][c]" into ["a", "b", "c"]. Malformed keys are kept whole.
func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}
	parts := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return []string{key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	return parts
}

func setPath(m map[string]any, path []string, v any) {
	for i, p := range path {
		last := i == len(path)-1
		if p == "" {
			// list-style key such as "ids[]": number the entries
			p = strconv.Itoa(len(m))
		}
		if last {
			m[p] = v
			return
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
}
