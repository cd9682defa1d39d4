package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodeAndExitCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		exit   int
		status int
	}{
		{"nil", nil, "", 0, 200},
		{"invalid", fmt.Errorf("%w: target is required", ErrInvalidSpec), CodeInvalidInput, 2, 400},
		{"connection", &ConnectionError{Endpoint: testEndpoint, Err: errors.New("refused")}, CodeConnection, 3, 502},
		{"submission", &SubmissionError{Target: testTarget, Err: errors.New("rejected")}, CodeSubmission, 4, 502},
		{"poll", &PollError{JobID: "1", Err: errors.New("boom")}, CodePoll, 5, 502},
		{"timeout", &TimeoutError{JobID: "1", MaxPolls: 3}, CodeTimeout, 6, 504},
		{"export", &ExportError{Target: testTarget, Failures: []ReportOutcome{{Format: "markdown", Err: errors.New("x")}}}, CodeExport, 7, 500},
		{"cancelled", &CancelledError{JobID: "1", Err: context.Canceled}, CodeCancelled, 130, 500},
		{"wrapped", fmt.Errorf("run: %w", &PollError{Err: errors.New("x")}), CodePoll, 5, 502},
		{"explicit code", WithErrorCode(errors.New("bad flag"), CodeInvalidInput), CodeInvalidInput, 2, 400},
		{"unknown", errors.New("boom"), CodeRunFailure, 1, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.code, ErrorCode(tt.err))
			require.Equal(t, tt.exit, ExitCode(tt.err))
			require.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestExportError_UnwrapsFailures(t *testing.T) {
	cause := errors.New("disk full")
	err := &ExportError{Target: testTarget, Failures: []ReportOutcome{{Format: "markdown", Err: cause}}}

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrExport)
	require.Contains(t, err.Error(), "markdown: disk full")
}

func TestTimeoutError_Message(t *testing.T) {
	err := &TimeoutError{JobID: "3", Polls: 4, LastProgress: 60, MaxPolls: 4}
	require.Contains(t, err.Error(), "max polls 4")
	require.Contains(t, err.Error(), "60%")
}

func TestSuggestions(t *testing.T) {
	require.Nil(t, Suggestions(nil))
	require.NotEmpty(t, Suggestions(&ConnectionError{Err: errors.New("x")}))
	require.NotEmpty(t, Suggestions(&TimeoutError{}))
	require.Nil(t, Suggestions(&CancelledError{Err: context.Canceled}))
}
