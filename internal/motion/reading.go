package motion

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// ErrNoSteps is returned by [ParseReading] for JSON without a steps field.
var ErrNoSteps = errors.New("motion: reading carries no steps")

// ParseReading decodes a step counter reading from a transport payload.
// Accepted forms are a bare integer and {"steps": n}.
func ParseReading(payload []byte) (int64, error) {
	s := strings.TrimSpace(string(payload))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	var v struct {
		Steps *int64 `json:"steps"`
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return 0, err
	}
	if v.Steps == nil {
		return 0, ErrNoSteps
	}
	return *v.Steps, nil
}
