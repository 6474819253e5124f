package training

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes the trainer treats as fatal.
// None of them are retried: a shape or teacher mismatch means the run
// is misconfigured and repeating the step would fail the same way.
var (
	// ErrShapeMismatch reports an external state whose tensors do not
	// match the shapes of the bound problem's trainable variables.
	ErrShapeMismatch = errors.New("unroll state shape mismatch")

	// ErrTeacherMismatch reports a teacher set whose size does not match
	// the teacher variable groups carried by the unroll state.
	ErrTeacherMismatch = errors.New("teacher count mismatch")

	// ErrGraphBuild reports inputs that do not fit the signature a step
	// was bound with (replica count, variable shapes).
	ErrGraphBuild = errors.New("bound step signature mismatch")

	// ErrDirectoryConflict reports a working directory that already holds
	// unrelated files and therefore cannot be claimed by a strategy.
	ErrDirectoryConflict = errors.New("working directory conflict")
)

func shapeMismatchf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))
}

func teacherMismatchf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTeacherMismatch, fmt.Sprintf(format, args...))
}

func graphBuildf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrGraphBuild, fmt.Sprintf(format, args...))
}
