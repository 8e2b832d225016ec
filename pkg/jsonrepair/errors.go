package jsonrepair

import (
	"errors"
	"fmt"
)

// Category classifies why a body was rejected.
type Category string

const (
	// CategoryDecode means the strict decode failed and no repair could change the outcome.
	CategoryDecode Category = "decode_error"
	// CategoryRepairFailed means the repaired text still failed the strict decode.
	CategoryRepairFailed Category = "repair_failed"
	// CategoryUTF8 means the body was not valid UTF-8 text.
	CategoryUTF8 Category = "utf8_decode_error"
)

var (
	// ErrInvalidUTF8 is returned for bodies that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("body is not valid utf-8")
	// ErrNotObject is returned when the body parses but the top-level value is not an object.
	ErrNotObject = errors.New("top-level json value is not an object")
	// ErrTrailingData is returned when data follows the top-level value.
	ErrTrailingData = errors.New("unexpected data after top-level json value")
)

// Error is returned by Parse for every rejected body.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CategoryOf returns the category carried by err, or "" when err is not an *Error.
func CategoryOf(err error) Category {
	var repairErr *Error
	if errors.As(err, &repairErr) {
		return repairErr.Category
	}
	return ""
}
