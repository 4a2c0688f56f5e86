package gpam

import "errors"

var (
	// ErrZeroUnits means the student carried no units in the requested scope.
	// Recoverable: the scope gets no aggregate.
	ErrZeroUnits = errors.New("gpam: zero units in scope")

	// ErrMissingMedian means a course key is neither cached nor present in the index.
	ErrMissingMedian = errors.New("gpam: no median for course key")

	// ErrInternalInconsistency means the index and the median cache disagree. Fatal.
	ErrInternalInconsistency = errors.New("gpam: internal inconsistency")
)
