package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Meta describes how the embedding matrix was produced. The file is
// optional and purely informational.
type Meta struct {
	Model      string    `json:"model,omitempty"`
	Dimensions int       `json:"dimensions,omitempty"`
	Count      int       `json:"count,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	// Extra keeps any fields this reader does not know about.
	Extra map[string]any `json:"-"`
}

// ReadMeta reads the metadata file. A missing file yields (nil, nil).
func ReadMeta(path string) (*Meta, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid meta file %s: %w", path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err == nil {
		for _, k := range []string{"model", "dimensions", "count", "created_at"} {
			delete(raw, k)
		}
		if len(raw) > 0 {
			m.Extra = raw
		}
	}
	return &m, nil
}
