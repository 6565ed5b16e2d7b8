package dispatch

import (
	"encoding/json"
	"errors"

	"github.com/rokytory/winx-code-agent/internal/fileedit"
	"github.com/rokytory/winx-code-agent/internal/permission"
	"github.com/rokytory/winx-code-agent/internal/shell"
	"github.com/rokytory/winx-code-agent/internal/taskctx"
)

// Error kinds reported to clients alongside the message.
const (
	KindPermissionDenied = "permission_denied"
	KindNotInitialized   = "not_initialized"
	KindInvalidInput     = "invalid_input"
	KindSessionBusy      = "session_busy"
	KindSpawnFailed      = "spawn_failed"
	KindProcessVanished  = "process_vanished"
	KindNotRunning       = "not_running"
	KindUnknownSpecial   = "unknown_special"
	KindJobNotFound      = "job_not_found"
	KindNoMatch          = "no_match"
	KindAmbiguousMatch   = "ambiguous_match"
	KindTargetNotEmpty   = "target_not_empty"
	KindSyntaxRejected   = "syntax_rejected"
	KindBlockSyntax      = "block_syntax"
	KindBinaryFile       = "binary_file"
	KindRange            = "invalid_range"
	KindTaskNotFound     = "task_not_found"
	KindInternal         = "internal"
)

// InputError reports a malformed request.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Message
}

func invalidInput(msg string) error {
	return &InputError{Message: msg}
}

// ErrorKind classifies err for clients.
func ErrorKind(err error) string {
	var (
		denied    *permission.DeniedError
		input     *InputError
		noMatch   *fileedit.NoMatchError
		ambiguous *fileedit.AmbiguousMatchError
		rejected  *fileedit.SyntaxRejectedError
		blockErr  *fileedit.BlockParseError
		rangeErr  *fileedit.RangeError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &denied):
		return KindPermissionDenied
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.As(err, &input), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return KindInvalidInput
	case errors.Is(err, shell.ErrSessionBusy):
		return KindSessionBusy
	case errors.Is(err, shell.ErrSpawnFailed):
		return KindSpawnFailed
	case errors.Is(err, shell.ErrProcessVanished):
		return KindProcessVanished
	case errors.Is(err, shell.ErrNotRunning):
		return KindNotRunning
	case errors.Is(err, shell.ErrUnknownSpecial):
		return KindUnknownSpecial
	case errors.Is(err, shell.ErrJobNotFound):
		return KindJobNotFound
	case errors.As(err, &noMatch):
		return KindNoMatch
	case errors.As(err, &ambiguous):
		return KindAmbiguousMatch
	case errors.Is(err, fileedit.ErrTargetNotEmpty):
		return KindTargetNotEmpty
	case errors.As(err, &rejected):
		return KindSyntaxRejected
	case errors.As(err, &blockErr), errors.Is(err, fileedit.ErrNoBlocks):
		return KindBlockSyntax
	case errors.Is(err, fileedit.ErrBinaryFile):
		return KindBinaryFile
	case errors.As(err, &rangeErr):
		return KindRange
	case errors.Is(err, taskctx.ErrNotFound):
		return KindTaskNotFound
	}
	return KindInternal
}
