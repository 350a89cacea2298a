package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyActiveTasks is returned when an employee tries to pick a
	// task while already holding an unfinished work.
	ErrTooManyActiveTasks = errors.New("employee already has an unfinished work")

	// ErrTaskRaceLost is returned when the last coverage slot of a task
	// was claimed by someone else first. Callers may retry with another
	// task.
	ErrTaskRaceLost = errors.New("task has no open coverage slot")

	// ErrNonEmptyWork is returned when cancelling a work that already
	// has submissions.
	ErrNonEmptyWork = errors.New("work has submissions and cannot be cancelled")

	// ErrFrozenWork is returned on any write against a frozen work.
	// Freezing is permanent; there is no unfreeze.
	ErrFrozenWork = errors.New("work is frozen")

	// ErrFilenameTooLong is returned before any parsing when an uploaded
	// filename exceeds the limit.
	ErrFilenameTooLong = fmt.Errorf("uploaded filename exceeds %d characters", MaxFilenameLength)

	// ErrCorruptArchive is returned when an uploaded archive cannot be
	// opened or holds no annotation.xml.
	ErrCorruptArchive = errors.New("uploaded archive is not a valid .k.zip file")
)

// InvalidSubmissionError rejects a submission with a reason shown
// verbatim to the annotator.
type InvalidSubmissionError struct {
	Reason string
}

func (e InvalidSubmissionError) Error() string {
	return e.Reason
}

// ParseError wraps a failure to parse the annotation.xml of a
// submission.
type ParseError struct {
	Err error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("annotation could not be parsed: %v", e.Err)
}

func (e ParseError) Unwrap() error {
	return e.Err
}
