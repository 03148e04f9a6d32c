package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	simplejson "github.com/bitly/go-simplejson"
)

// document reads optional fields out of a loosely shaped JSON record. Paths
// are dot separated object keys. Every accessor treats a missing key, a null
// and a value of the wrong type the same way: as absent.
type document struct {
	j *simplejson.Json
}

func newDocument(j *simplejson.Json) document {
	if j == nil {
		j = simplejson.New()
	}
	return document{j: j}
}

func (d document) lookup(path string) (*simplejson.Json, bool) {
	cur := d.j
	for _, part := range strings.Split(path, ".") {
		next, ok := cur.CheckGet(part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	if cur.Interface() == nil {
		return nil, false
	}
	return cur, true
}

// stringAt returns the trimmed string at path. Non-string values and blank
// strings are absent.
func (d document) stringAt(path string) (string, bool) {
	v, ok := d.lookup(path)
	if !ok {
		return "", false
	}
	s, err := v.String()
	if err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// firstString walks paths in order and returns the first usable string.
func (d document) firstString(paths ...string) (string, bool) {
	for _, p := range paths {
		if s, ok := d.stringAt(p); ok {
			return s, true
		}
	}
	return "", false
}

// scalarAt returns the textual form of a string or number at path. Numbers
// keep the exact digits the feed sent.
func (d document) scalarAt(path string) (string, bool) {
	v, ok := d.lookup(path)
	if !ok {
		return "", false
	}
	switch raw := v.Interface().(type) {
	case string:
		s := strings.TrimSpace(raw)
		return s, s != ""
	case json.Number:
		return raw.String(), true
	case float64:
		return strconv.FormatFloat(raw, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(raw, 10), true
	default:
		return "", false
	}
}

// boolAt accepts only real JSON booleans.
func (d document) boolAt(path string) (*bool, bool) {
	v, ok := d.lookup(path)
	if !ok {
		return nil, false
	}
	b, ok := v.Interface().(bool)
	if !ok {
		return nil, false
	}
	return &b, true
}
