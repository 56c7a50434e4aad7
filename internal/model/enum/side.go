package enum

import (
	"database/sql/driver"
	"fmt"
)

// Side is the order direction in broker single-letter form.
type Side uint8

const (
	_side_beg Side = iota
	SideBuy
	SideSell
	_side_end
)

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

// Opposite returns the flattening direction.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return s
	}
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "B"
	case SideSell:
		return "S"
	default:
		return "?"
	}
}

func ParseSide(raw string) (Side, bool) {
	switch raw {
	case "B":
		return SideBuy, true
	case "S":
		return SideSell, true
	default:
		return _side_beg, false
	}
}

func (s Side) Value() (driver.Value, error) {
	if !s.IsAvailable() {
		return nil, fmt.Errorf("invalid side: %d", s)
	}
	return s.String(), nil
}

func (s *Side) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported side source: %T", src)
	}
	parsed, ok := ParseSide(raw)
	if !ok {
		return fmt.Errorf("unknown side: %q", raw)
	}
	*s = parsed
	return nil
}
