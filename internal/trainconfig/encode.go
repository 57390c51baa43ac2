package trainconfig

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Marshal renders doc with the exact key names consumers look up. Parsing the
// result yields a Document equal to doc.
func Marshal(doc *Document) ([]byte, error) {
	out := *doc
	out.Model.Modules = make(map[string]ModuleConfig, len(doc.Model.Modules))
	for name, m := range doc.Model.Modules {
		m.ModelCfg = keepFloats(m.ModelCfg).(map[string]any)
		out.Model.Modules[name] = m
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// wholeFloat keeps 1.0 from being written as 1, which would read back as an integer.
type wholeFloat float64

func (f wholeFloat) MarshalYAML() (any, error) {
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!float",
		Value: strconv.FormatFloat(float64(f), 'f', 1, 64),
	}, nil
}

func keepFloats(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = keepFloats(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = keepFloats(item)
		}
		return out
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) && math.Abs(val) < 1e15 {
			return wholeFloat(val)
		}
		return val
	default:
		return v
	}
}
