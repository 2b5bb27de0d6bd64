package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FeatureList is the ordered column set a model was trained on. Its length and
// order come from the artifact, never from a request.
type FeatureList struct {
	names []string
	index map[string]int
}

func NewFeatureList(names []string) (*FeatureList, error) {
	if len(names) == 0 {
		return nil, errors.New("feature list is empty")
	}
	index := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("feature %d has an empty name", i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate feature %q", name)
		}
		index[name] = i
	}
	return &FeatureList{names: append([]string(nil), names...), index: index}, nil
}

func LoadFeatureList(path string) (*FeatureList, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	list, err := NewFeatureList(names)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return list, nil
}

func (f *FeatureList) Names() []string {
	return append([]string(nil), f.names...)
}

func (f *FeatureList) Len() int {
	return len(f.names)
}

func (f *FeatureList) Index(name string) (int, bool) {
	i, ok := f.index[name]
	return i, ok
}

func (f *FeatureList) Contains(name string) bool {
	_, ok := f.index[name]
	return ok
}
