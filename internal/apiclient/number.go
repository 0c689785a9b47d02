package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Number is a JSON numeric value that vendors may send either as a number or
// as a quoted string. Empty strings and null decode to zero.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" || s == "-" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*n = Number(f)
		return nil
	}

	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", data, err)
	}
	*n = Number(f)
	return nil
}

func (n Number) Float64() float64 { return float64(n) }

// Int64 truncates toward zero
func (n Number) Int64() int64 { return int64(n) }
