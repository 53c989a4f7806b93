package executor

import (
	"context"
	"errors"
	"regexp"
)

// Class says what the executor may do about a failure.
type Class string

const (
	// ClassRecoverable failures are rewritten and retried.
	ClassRecoverable Class = "recoverable"
	// ClassFatal failures are returned at once.
	ClassFatal Class = "fatal"
	// ClassValidation failures were caught before the backend was called.
	ClassValidation Class = "validation"
)

// ClassifiedError is implemented by backend errors that know their class.
type ClassifiedError interface {
	error
	Class() Class
}

var (
	fatalRE = regexp.MustCompile(`(?i)(permission|access) denied|not authori[sz]ed|unauthori[sz]ed|forbidden|authentication failed|` +
		`table with name \S+ does not exist|unknown (table|database)|table \S+ (not found|doesn't exist|does not exist)|` +
		`(database|schema|catalog) (with name )?\S+ does not exist|no such table|readonly mode|read-only mode`)
	typeMismatchRE = regexp.MustCompile(`(?i)conversion error|could not convert|type mismatch|cannot compare|no function matches|` +
		`cannot be cast|illegal type|cannot parse|cannot convert|invalid input syntax`)
)

// Classify decides whether err is worth a corrective retry. Timeouts, syntax
// and binding problems and anything unrecognized are recoverable; permission
// problems, missing tables and cancellation are fatal.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class()
	}
	var perr *ParamError
	if errors.As(err, &perr) || errors.Is(err, ErrNotReadOnly) {
		return ClassValidation
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRecoverable
	}
	if fatalRE.MatchString(err.Error()) {
		return ClassFatal
	}
	return ClassRecoverable
}

// isTypeMismatch reports whether err looks like a parameter of the wrong type.
func isTypeMismatch(err error) bool {
	return err != nil && typeMismatchRE.MatchString(err.Error())
}
