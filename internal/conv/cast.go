package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when a value does not fit the target type.
var ErrOverflow = errors.New("integer overflow")

// Uint64ToInt converts v to int, failing when it exceeds math.MaxInt.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: %d does not fit int", ErrOverflow, v)
	}
	return int(v), nil
}

// Int64ToInt converts a size or offset to int. Negative values are rejected.
func Int64ToInt(v int64) (int, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrOverflow, v)
	}
	if uint64(v) > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: %d does not fit int", ErrOverflow, v)
	}
	return int(v), nil
}

// IntToUint64 converts a non-negative int to uint64.
func IntToUint64(v int) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrOverflow, v)
	}
	return uint64(v), nil
}
