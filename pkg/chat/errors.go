package chat

import (
	"errors"
	"fmt"
)

// Stages at which Ask can fail.
const (
	StageValidate = "validate"
	StageCondense = "condense"
	StageRetrieve = "retrieve"
	StageComplete = "complete"
)

// ErrEmptyQuestion is returned for blank input.
var ErrEmptyQuestion = errors.New("empty question")

// AnswerError reports a failed turn. The session can continue after it.
type AnswerError struct {
	Stage string
	Err   error
}

func (e *AnswerError) Error() string {
	return fmt.Sprintf("answer failed during %s: %v", e.Stage, e.Err)
}

func (e *AnswerError) Unwrap() error { return e.Err }
