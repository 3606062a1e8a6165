package cliutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Oudwins/somedaex/internals/tasks"
)

var ErrBadAssignment = errors.New("expected key=value")

// ParseAssignment splits "key=value". The value is decoded as JSON when it is
// valid JSON and kept as a plain string otherwise, so format=csv and
// format=null both do what they look like.
func ParseAssignment(raw string) (string, any, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("%w: %q", ErrBadAssignment, raw)
	}
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err == nil {
		return key, decoded, nil
	}
	return key, value, nil
}

// ParseAssignments folds a list of key=value pairs into a config update.
func ParseAssignments(raw []string) (tasks.Config, error) {
	config := tasks.Config{}
	for _, item := range raw {
		key, value, err := ParseAssignment(item)
		if err != nil {
			return nil, err
		}
		config[key] = value
	}
	return config, nil
}
