package features

import (
	"errors"
	"fmt"
)

// Extraction stages. An *ExtractError matches exactly one of these with errors.Is.
var (
	ErrDecode     = errors.New("decode")
	ErrEmbed      = errors.New("embed")
	ErrMotion     = errors.New("motion")
	ErrCacheWrite = errors.New("cache write")
)

// ExtractError reports which stage of a video's extraction failed.
type ExtractError struct {
	Path  string
	Stage error
	Err   error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v: %v", e.Path, e.Stage, e.Err)
}

func (e *ExtractError) Unwrap() []error {
	return []error{e.Stage, e.Err}
}

func stageError(path string, stage, err error) error {
	return &ExtractError{Path: path, Stage: stage, Err: err}
}

// StageOf returns the stage name of an extraction error, or "" when err did
// not come from the engine.
func StageOf(err error) string {
	var ee *ExtractError
	if errors.As(err, &ee) && ee.Stage != nil {
		return ee.Stage.Error()
	}
	return ""
}
