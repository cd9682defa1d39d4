package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	ErrInvalidSpec          = errors.New("invalid run specification")
	ErrDuplicateDestination = errors.New("duplicate report destination")
	ErrConnection           = errors.New("scanner connection failed")
	ErrSubmission           = errors.New("scan submission failed")
	ErrPoll                 = errors.New("scan status poll failed")
	ErrTimeout              = errors.New("scan did not complete in time")
	ErrCancelled            = errors.New("scan cancelled")
	ErrExport               = errors.New("report export failed")

	// ErrAlreadySubmitted is returned when a second scan is submitted in one run.
	ErrAlreadySubmitted = errors.New("scan already submitted for this run")
	// ErrNotSubmitted is returned when polling a job this run did not submit.
	ErrNotSubmitted = errors.New("job was not submitted by this run")
	// ErrNotCompleted is returned when exporting before completion was observed.
	ErrNotCompleted = errors.New("scan completion has not been observed")
)

// ConnectionError reports a failed reachability probe.
type ConnectionError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to scanner at %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error        { return e.Err }
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// SubmissionError reports a rejected scan request.
type SubmissionError struct {
	Target string
	Policy string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit scan of %s (policy %q): %v", e.Target, e.Policy, e.Err)
}

func (e *SubmissionError) Unwrap() error        { return e.Err }
func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// PollError reports a status query that failed after its retries.
type PollError struct {
	JobID    JobID
	Poll     int
	Attempts int
	Err      error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %d of job %s failed after %d attempt(s): %v", e.Poll, e.JobID, e.Attempts, e.Err)
}

func (e *PollError) Unwrap() error        { return e.Err }
func (e *PollError) Is(target error) bool { return target == ErrPoll }

// TimeoutError reports a job that was still running when a wait bound was hit.
// MaxPolls is set when the poll count bound fired, Timeout when the
// wall-clock bound fired.
type TimeoutError struct {
	JobID        JobID
	Polls        int
	LastProgress int
	Elapsed      time.Duration
	MaxPolls     int
	Timeout      time.Duration
}

func (e *TimeoutError) Error() string {
	limit := fmt.Sprintf("timeout %s", e.Timeout)
	if e.MaxPolls > 0 {
		limit = fmt.Sprintf("max polls %d", e.MaxPolls)
	}
	return fmt.Sprintf("job %s still at %d%% after %d poll(s) in %s (%s)",
		e.JobID, e.LastProgress, e.Polls, e.Elapsed.Round(time.Millisecond), limit)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// CancelledError reports a run interrupted by its caller.
type CancelledError struct {
	JobID JobID
	Polls int
	Err   error
}

func (e *CancelledError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("run cancelled: %v", e.Err)
	}
	return fmt.Sprintf("wait for job %s cancelled after %d poll(s): %v", e.JobID, e.Polls, e.Err)
}

func (e *CancelledError) Unwrap() error        { return e.Err }
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// ExportError collects the report formats that could not be generated.
type ExportError struct {
	Target   string
	Failures []ReportOutcome
}

func (e *ExportError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Format, f.Err))
	}
	return fmt.Sprintf("export %d report(s) for %s: %s", len(e.Failures), e.Target, strings.Join(parts, "; "))
}

func (e *ExportError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

func (e *ExportError) Is(target error) bool { return target == ErrExport }

// Error codes used by the CLI and the HTTP API.
const (
	CodeInvalidInput = "INVALID_INPUT"
	CodeConnection   = "CONNECTION_FAILED"
	CodeSubmission   = "SUBMISSION_FAILED"
	CodePoll         = "POLL_FAILED"
	CodeTimeout      = "SCAN_TIMEOUT"
	CodeCancelled    = "SCAN_CANCELLED"
	CodeExport       = "EXPORT_FAILED"
	CodeRunFailure   = "RUN_FAILURE"
)

type codedError struct {
	error
	code string
}

func (e *codedError) Unwrap() error { return e.error }
func (e *codedError) Code() string  { return e.code }

// WithErrorCode wraps err with an explicit error code.
func WithErrorCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &codedError{error: err, code: code}
}

// ErrorCode resolves a run error into a stable code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := coded.Code(); code != "" {
			return code
		}
	}

	switch {
	case errors.Is(err, ErrInvalidSpec):
		return CodeInvalidInput
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrSubmission):
		return CodeSubmission
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrPoll):
		return CodePoll
	case errors.Is(err, ErrExport):
		return CodeExport
	}
	return CodeRunFailure
}

// ExitCode maps run errors to process exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch ErrorCode(err) {
	case CodeInvalidInput:
		return 2
	case CodeConnection:
		return 3
	case CodeSubmission:
		return 4
	case CodePoll:
		return 5
	case CodeTimeout:
		return 6
	case CodeExport:
		return 7
	case CodeCancelled:
		return 130
	default:
		return 1
	}
}

// HTTPStatus maps run errors to HTTP status codes.
func HTTPStatus(err error) int {
	if err == nil {
		return 200
	}

	switch ErrorCode(err) {
	case CodeInvalidInput:
		return 400
	case CodeConnection, CodeSubmission, CodePoll:
		return 502
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}

// Suggestions provides CLI hints for run errors.
func Suggestions(err error) []string {
	if err == nil {
		return nil
	}

	switch ErrorCode(err) {
	case CodeInvalidInput:
		return []string{
			"Provide a target URL:        scanpilot scan https://example.com",
			"Run help for options:        scanpilot scan --help",
		}
	case CodeConnection:
		return []string{
			"Check the scanner is up:     curl http://localhost:8090/JSON/core/view/version/",
			"Point at another scanner:    scanpilot scan <target> --host <host> --port <port>",
			"Set the API key:             SCANPILOT_SCANNER_API_KEY=<key>",
		}
	case CodeSubmission:
		return []string{
			"Check the scan policy exists on the scanner",
			"Make sure the target is reachable from the scanner host",
		}
	case CodePoll:
		return []string{
			"Retry with more poll retries: scanpilot scan <target> --poll-retries 5",
		}
	case CodeTimeout:
		return []string{
			"Raise the wait bound:        scanpilot scan <target> --timeout 2h",
			"Remove the poll limit:       scanpilot scan <target> --max-polls 0",
		}
	case CodeExport:
		return []string{
			"Check the report directory exists on the scanner host",
			"List available templates on the scanner: /JSON/reports/view/templates/",
		}
	case CodeCancelled:
		return nil
	default:
		return []string{
			"Retry with verbose logs:     scanpilot scan <target> --debug",
		}
	}
}
