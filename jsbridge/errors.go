package jsbridge

import "errors"

// MaxNestingDepth bounds sequence/mapping nesting accepted by both codecs and
// by script value conversion.
const MaxNestingDepth = 512

// MaxSequenceLength bounds the length of a single script array converted into
// a Value, and MaxConvertedValues bounds the number of values visited by one
// conversion. Array lengths are script controlled, so neither may be trusted
// for allocation.
const (
	MaxSequenceLength  = 1 << 20
	MaxConvertedValues = 1 << 22
)

var (
	ErrUnsupportedValue = errors.New("unsupported value")
	ErrTrailingData     = errors.New("trailing data")
	ErrMaxDepth         = errors.New("maximum nesting depth exceeded")
	ErrEmptyDocument    = errors.New("empty document")
	ErrMaxLength        = errors.New("maximum conversion size exceeded")
)
