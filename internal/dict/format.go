package dict

import (
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v2"
)

// Format renders v as YAML for humans. Map order is kept and blobs are
// shown as hex, so two equal documents always format identically.
func Format(v Value) (string, error) {
	out, err := yaml.Marshal(toYAML(v))
	if err != nil {
		return "", fmt.Errorf("format document: %w", err)
	}
	return string(out), nil
}

func toYAML(v Value) any {
	switch tv := v.(type) {
	case *Map:
		ms := make(yaml.MapSlice, 0, tv.Len())
		for k, item := range tv.All() {
			ms = append(ms, yaml.MapItem{Key: k, Value: toYAML(item)})
		}
		return ms
	case *List:
		items := make([]any, 0, tv.Len())
		for _, item := range tv.All() {
			items = append(items, toYAML(item))
		}
		return items
	case Blob:
		return "0x" + hex.EncodeToString(tv.b)
	case String:
		return string(tv)
	case Bool:
		return bool(tv)
	case Int32:
		return int64(tv)
	case Int64:
		return int64(tv)
	case Uint8:
		return uint64(tv)
	case Uint16:
		return uint64(tv)
	case Uint32:
		return uint64(tv)
	case Uint64:
		return uint64(tv)
	}
	return nil
}
