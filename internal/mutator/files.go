package mutator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// applyPlain replaces the whole content of a plain identifier file. A file
// that does not exist yet is created.
func (m *Mutator) applyPlain(res *Result, opts Options) Result {
	path := res.Artifact.Path

	change := Change{Field: filepath.Base(path)}
	id, err := m.generate(change.Field)
	if err != nil {
		return res.fail(err)
	}
	change.New = id

	if data, err := os.ReadFile(path); err == nil {
		change.Old = strings.TrimSpace(string(data))
		change.OldKnown = true
		m.backupFile(res, path, res.Artifact.Label, opts)
	} else if !os.IsNotExist(err) {
		m.log.Warn("cannot read old identifier", "path", path, "error", err)
	}

	if err := m.unlock(path); err != nil {
		return res.fail(err)
	}
	if err := writeFile(path, []byte(change.New)); err != nil {
		return res.fail(err)
	}
	res.Changes = append(res.Changes, change)

	m.lock(res, path, opts)
	return res.succeed(OutcomeMutated)
}

// applyJSON replaces every telemetry key present in a JSON object. JSON
// with comments and trailing commas is accepted; the file is written back
// as plain indented JSON only when a key changed. Key order and the text of
// unrelated values are kept.
func (m *Mutator) applyJSON(res *Result, opts Options) Result {
	path := res.Artifact.Path

	data, err := os.ReadFile(path)
	if err != nil {
		return res.fail(fmt.Errorf("failed to read %s: %w", path, err))
	}

	obj, err := decodeOrdered(data)
	if err != nil {
		return res.fail(fmt.Errorf("failed to parse %s: %w", path, err))
	}

	var changes []Change
	for _, key := range TelemetryKeys {
		old, ok := obj.values[key]
		if !ok {
			continue
		}
		id, err := m.generate(key)
		if err != nil {
			return res.fail(err)
		}
		c := Change{Field: key, New: id}
		c.Old, c.OldKnown = rawScalar(old)
		if err := obj.set(key, c.New); err != nil {
			return res.fail(fmt.Errorf("failed to encode %s: %w", path, err))
		}
		changes = append(changes, c)
	}
	if len(changes) == 0 {
		return res.succeed(OutcomeUnchanged)
	}

	out, err := obj.encode("    ")
	if err != nil {
		return res.fail(fmt.Errorf("failed to encode %s: %w", path, err))
	}

	m.backupFile(res, path, res.Artifact.Label, opts)
	if err := m.unlock(path); err != nil {
		return res.fail(err)
	}
	if err := writeFile(path, out); err != nil {
		return res.fail(err)
	}
	res.Changes = changes

	m.lock(res, path, opts)
	return res.succeed(OutcomeMutated)
}

// object is a top-level JSON object that remembers its key order. Values
// are kept as the raw text they were read as.
type object struct {
	keys   []string
	values map[string]json.RawMessage
}

// decodeOrdered parses a JSON (or JSONC) object. A repeated key keeps its
// first position and its last value.
func decodeOrdered(data []byte) (*object, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("not a JSON object")
	}

	obj := &object{values: make(map[string]json.RawMessage)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		if _, seen := obj.values[key]; !seen {
			obj.keys = append(obj.keys, key)
		}
		obj.values[key] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func (o *object) set(key string, v any) error {
	raw, err := marshalJSON(v)
	if err != nil {
		return err
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = raw
	return nil
}

// encode writes the object with one member per line.
func (o *object) encode(indent string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalJSON(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if err := json.Compact(&buf, o.values[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", indent); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// marshalJSON encodes v without escaping <, > and &.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// rawScalar decodes one raw value for reporting.
func rawScalar(raw json.RawMessage) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	return scalarString(v)
}

// decodeObject parses a JSON (or JSONC) object, keeping numbers exact.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	return obj, nil
}

// scalarString renders a JSON value for reporting. Non-scalar values are
// reported as their JSON encoding.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return fmt.Sprint(t), true
	case nil:
		return "", false
	default:
		b, err := marshalJSON(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
