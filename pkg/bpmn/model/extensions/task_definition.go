package extensions

import (
	"fmt"
	"strconv"
	"strings"
)

const DefaultJobRetries int32 = 3

type TTaskDefinition struct {
	TypeName string `xml:"type,attr"`
	Retries  string `xml:"retries,attr,omitempty"`
}

// GetRetries returns the configured retries or DefaultJobRetries when none are set.
func (td TTaskDefinition) GetRetries() (int32, error) {
	retries := strings.TrimSpace(td.Retries)
	if retries == "" {
		return DefaultJobRetries, nil
	}
	r, err := strconv.ParseInt(retries, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid retries value %q: %w", td.Retries, err)
	}
	if r < 0 {
		return 0, fmt.Errorf("retries must not be negative, got %d", r)
	}
	return int32(r), nil
}
