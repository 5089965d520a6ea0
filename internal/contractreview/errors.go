package contractreview

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoExtractableContent = errors.New("no extractable content")
	ErrAllChunksFailed      = errors.New("unable to extract from any chunk")
	ErrSynthesisFailed      = errors.New("synthesis failed")
	ErrInvalidTransition    = errors.New("invalid state transition")
)

// ErrorKind classifies run-level failures so callers can map them to
// distinct responses.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindStructural      ErrorKind = "structural"
	KindAllChunksFailed ErrorKind = "all_chunks_failed"
	KindSynthesisFailed ErrorKind = "synthesis_failed"
	KindCancelled       ErrorKind = "cancelled"
	KindInternal        ErrorKind = "internal"
)

const (
	StageChunking    = "chunking"
	StageExtraction  = "extraction"
	StageAggregating = "aggregating"
	StageSynthesis   = "synthesis"
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrNoExtractableContent):
		return KindStructural
	case errors.Is(err, ErrAllChunksFailed):
		return KindAllChunksFailed
	case errors.Is(err, ErrSynthesisFailed):
		return KindSynthesisFailed
	case errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
