package domain

import "fmt"

// Direction is the side of a user trade.
type Direction int

const (
	DirectionBuy Direction = iota
	DirectionSell
)

const (
	directionStringBuy  = "buy"
	directionStringSell = "sell"
)

// ParseDirection converts "buy"/"sell" into a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case directionStringBuy:
		return DirectionBuy, true
	case directionStringSell:
		return DirectionSell, true
	}
	return 0, false
}

// String returns the string representation of the direction
func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return directionStringBuy
	case DirectionSell:
		return directionStringSell
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, ok := ParseDirection(string(text))
	if !ok {
		return fmt.Errorf("unknown direction %q", text)
	}
	*d = parsed
	return nil
}
