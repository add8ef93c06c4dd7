// Package normalizer turns shape-varying webhook records into canonical
// call lifecycle events.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dennisdiepolder/monti/wallboard/internal/types"
)

var (
	// ErrEmptyRecord is returned for a record with no fields at all.
	ErrEmptyRecord = errors.New("empty event record")
	// ErrMissingCallID is returned when no call id path yields a value.
	ErrMissingCallID = errors.New("no call id in event record")
)

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock sets the time source used when a record carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithLocation sets the zone for timestamps without an offset.
func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) { n.loc = loc }
}

// Normalizer extracts {kind, callId, direction, agentId, observedAt, hints}
// from a raw record. Safe for concurrent use; rules can be swapped at runtime.
type Normalizer struct {
	mu    sync.RWMutex
	rules Rules
	names map[string]types.EventKind
	kinds []marker

	now func() time.Time
	loc *time.Location
}

type marker struct {
	token string
	kind  types.EventKind
}

// New creates a Normalizer with the given rules.
func New(rules Rules, opts ...Option) *Normalizer {
	n := &Normalizer{
		now: time.Now,
		loc: time.UTC,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.SetRules(rules)
	return n
}

// SetRules replaces the active rule set.
func (n *Normalizer) SetRules(rules Rules) {
	names := compileNames(rules.KindNames)
	kinds := compileMarkers(rules.KindMarkers)

	n.mu.Lock()
	n.rules = rules
	n.names = names
	n.kinds = kinds
	n.mu.Unlock()
}

// Rules returns the active rule set.
func (n *Normalizer) Rules() Rules {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rules
}

// Normalize extracts a canonical event. Records with an unrecognized type
// still normalize, with Kind set to KindUnknown.
func (n *Normalizer) Normalize(raw map[string]any) (types.Event, error) {
	if len(raw) == 0 {
		return types.Event{}, ErrEmptyRecord
	}

	n.mu.RLock()
	rules, names, kinds := n.rules, n.names, n.kinds
	n.mu.RUnlock()

	rawKind := first(raw, rules.TypeFields)
	ev := types.Event{
		RawKind: rawKind,
		Kind:    matchKind(names, kinds, rawKind),
	}

	ev.CallID = first(raw, rules.CallID)
	if ev.CallID == "" {
		return types.Event{}, fmt.Errorf("normalize %q: %w", rawKind, ErrMissingCallID)
	}

	ev.Direction = resolveDirection(first(raw, rules.Direction), rules.DirectionCodes)
	ev.AgentID = first(raw, rules.AgentID)
	// Bitrix sends 0 for "no user".
	if ev.AgentID == "0" {
		ev.AgentID = ""
	}

	ev.ObservedAt = n.observedAt(raw, rules.ObservedAt)
	ev.Hints = types.StatusHints{
		FailedCode: first(raw, rules.Hints.FailedCode),
		Reason:     first(raw, rules.Hints.Reason),
	}
	if d, err := strconv.Atoi(first(raw, rules.Hints.Duration)); err == nil && d > 0 {
		ev.Hints.Duration = d
	}

	return ev, nil
}

// EventType returns the raw type string of a record, or "".
func (n *Normalizer) EventType(raw map[string]any) string {
	n.mu.RLock()
	fields := n.rules.TypeFields
	n.mu.RUnlock()
	return first(raw, fields)
}

func (n *Normalizer) observedAt(raw map[string]any, paths []string) time.Time {
	for _, p := range paths {
		v, ok := Lookup(raw, p)
		if !ok {
			continue
		}
		if t, ok := parseTime(v, n.loc); ok {
			return t
		}
	}
	return n.now()
}

func compileNames(names map[string]string) map[string]types.EventKind {
	out := make(map[string]types.EventKind, len(names))
	for name, kind := range names {
		if c := canonical(name); c != "" {
			out[c] = types.EventKind(kind)
		}
	}
	return out
}

func compileMarkers(markers map[string][]string) []marker {
	var out []marker
	for kind, tokens := range markers {
		for _, tok := range tokens {
			if t := canonical(tok); t != "" {
				out = append(out, marker{token: t, kind: types.EventKind(kind)})
			}
		}
	}
	// Longest token first so "DISCONNECTED" beats "CONNECTED".
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].token) != len(out[j].token) {
			return len(out[i].token) > len(out[j].token)
		}
		return out[i].token < out[j].token
	})
	return out
}

// matchKind checks the exact name table first, then picks the longest
// marker that ends the canonical type string, so "ONVOXIMPLANTCALLINIT",
// "CallInit" and "call.init" all resolve alike.
func matchKind(names map[string]types.EventKind, markers []marker, rawKind string) types.EventKind {
	c := canonical(rawKind)
	if c == "" {
		return types.KindUnknown
	}
	if k, ok := names[c]; ok {
		return k
	}
	for _, m := range markers {
		if strings.HasSuffix(c, m.token) {
			return m.kind
		}
	}
	return types.KindUnknown
}

func canonical(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func resolveDirection(v string, codes map[string]string) types.Direction {
	if v == "" {
		return types.DirectionInbound
	}
	if d, ok := codes[v]; ok {
		return types.Direction(d)
	}
	if strings.Contains(strings.ToLower(v), "out") {
		return types.DirectionOutbound
	}
	return types.DirectionInbound
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(v any, loc *time.Location) (time.Time, bool) {
	s := stringify(v)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromUnix(f)
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// fromUnix accepts seconds or milliseconds since the epoch.
func fromUnix(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)), true
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)), true
}

// first returns the first non-empty string found at any of paths.
func first(raw map[string]any, paths []string) string {
	for _, p := range paths {
		if v, ok := Lookup(raw, p); ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// Lookup resolves a dotted path against nested maps. Each segment matches a
// key exactly, or else case-insensitively.
func Lookup(raw map[string]any, path string) (any, bool) {
	var cur any = raw
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			v, ok = foldLookup(m, seg)
		}
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// LookupString is Lookup with the value rendered as a trimmed string.
func LookupString(raw map[string]any, path string) string {
	v, ok := Lookup(raw, path)
	if !ok {
		return ""
	}
	return stringify(v)
}

func foldLookup(m map[string]any, key string) (any, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		// Form decoders may hand over repeated keys.
		if len(x) > 0 {
			return stringify(x[0])
		}
	}
	return ""
}
