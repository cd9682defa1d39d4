package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/scanpilot/pkg/retry"
)

func newTestOrchestrator(c Client, opts Options) (*Orchestrator, *recordingWait, *eventLog) {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	w := &recordingWait{}
	events := &eventLog{}
	o := New(dialerFor(c), opts).WithWaitFunc(w.Wait).WithProgressSink(events)
	return o, w, events
}

func TestAwaitCompletion_PollsUntilComplete(t *testing.T) {
	client := newFakeClient(0, 40, 95, 100)
	o, w, events := newTestOrchestrator(client, Options{})
	ctx := context.Background()

	c, err := o.Connect(ctx, testEndpoint)
	require.NoError(t, err)
	job, err := o.SubmitScan(ctx, c, testTarget, "")
	require.NoError(t, err)

	done, err := o.AwaitCompletion(ctx, c, job)
	require.NoError(t, err)
	require.Equal(t, 4, client.statusCalls)
	require.Equal(t, 1, client.scanCalls)
	require.Len(t, w.waits, 3)
	require.Equal(t, 15*time.Second, w.total())
	require.Equal(t, []int{0, 40, 95}, events.progress())
	require.Equal(t, 4, done.Polls)
	require.Equal(t, 100, done.Progress)
	require.Equal(t, 15*time.Second, done.Waited)
	require.Equal(t, StateCompleted, o.State())
}

func TestAwaitCompletion_ImmediateCompletionDoesNotWait(t *testing.T) {
	client := newFakeClient(100)
	o, w, events := newTestOrchestrator(client, Options{})
	ctx := context.Background()

	c, err := o.Connect(ctx, testEndpoint)
	require.NoError(t, err)
	job, err := o.SubmitScan(ctx, c, testTarget, "")
	require.NoError(t, err)

	_, err = o.AwaitCompletion(ctx, c, job)
	require.NoError(t, err)
	require.Equal(t, 1, client.statusCalls)
	require.Empty(t, w.waits)
	require.Empty(t, events.progress())
}

func TestAwaitCompletion_ProgressAbove100Completes(t *testing.T) {
	client := newFakeClient(50, 120)
	o, _, _ := newTestOrchestrator(client, Options{})
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	job, _ := o.SubmitScan(ctx, c, testTarget, "")
	done, err := o.AwaitCompletion(ctx, c, job)
	require.NoError(t, err)
	require.Equal(t, 120, done.Progress)
}

func TestAwaitCompletion_NegativeProgressKeepsPolling(t *testing.T) {
	client := newFakeClient(-1, 100)
	o, w, events := newTestOrchestrator(client, Options{})
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	job, _ := o.SubmitScan(ctx, c, testTarget, "")
	_, err := o.AwaitCompletion(ctx, c, job)
	require.NoError(t, err)
	require.Len(t, w.waits, 1)
	require.Equal(t, []int{-1}, events.progress())
}

func TestAwaitCompletion_MaxPolls(t *testing.T) {
	client := newFakeClient(10)
	o, w, _ := newTestOrchestrator(client, Options{MaxPolls: 3})
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	job, _ := o.SubmitScan(ctx, c, testTarget, "")
	_, err := o.AwaitCompletion(ctx, c, job)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.ErrorIs(t, err, ErrTimeout)
	require.Equal(t, 3, timeoutErr.Polls)
	require.Equal(t, 3, timeoutErr.MaxPolls)
	require.Equal(t, 10, timeoutErr.LastProgress)
	require.Equal(t, 3, client.statusCalls)
	require.Len(t, w.waits, 2, "no suspension after the last allowed poll")
	require.Equal(t, StateTimedOut, o.State())
	require.Equal(t, 6, ExitCode(err))
}

func TestAwaitCompletion_WallClockTimeout(t *testing.T) {
	client := newFakeClient(0)
	o := New(dialerFor(client), Options{PollInterval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond})
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	job, _ := o.SubmitScan(ctx, c, testTarget, "")
	_, err := o.AwaitCompletion(ctx, c, job)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, 40*time.Millisecond, timeoutErr.Timeout)
	require.Zero(t, timeoutErr.MaxPolls)
	require.NotErrorIs(t, err, ErrCancelled)
	require.Equal(t, StateTimedOut, o.State())
}

func TestAwaitCompletion_Cancelled(t *testing.T) {
	client := newFakeClient(10)
	o, w, events := newTestOrchestrator(client, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.before = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	c, _ := o.Connect(ctx, testEndpoint)
	job, _ := o.SubmitScan(ctx, c, testTarget, "")
	_, err := o.AwaitCompletion(ctx, c, job)

	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrTimeout)
	require.Equal(t, 2, client.statusCalls)
	require.Equal(t, StateCancelled, o.State())
	require.Equal(t, 130, ExitCode(err))

	last := events.events[len(events.events)-1]
	assert.Equal(t, StatusCancelled, last.Status)
}

func TestAwaitCompletion_RetriesTransientStatusErrors(t *testing.T) {
	client := newFakeClient(100)
	client.statusErrs = []error{transientErr{}, transientErr{}}
	opts := Options{PollRetry: retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, Multiplier: 1}}
	o, w, _ := newTestOrchestrator(client, opts)
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	job, _ := o.SubmitScan(ctx, c, testTarget, "")
	done, err := o.AwaitCompletion(ctx, c, job)
	require.NoError(t, err)
	require.Equal(t, 3, client.statusCalls)
	require.Equal(t, 1, done.Polls, "retries stay inside one poll")
	require.Empty(t, w.waits)
}

func TestAwaitCompletion_PermanentStatusError(t *testing.T) {
	client := newFakeClient(100)
	client.statusErrs = []error{errPermanent}
	opts := Options{PollRetry: retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, Multiplier: 1}}
	o, _, _ := newTestOrchestrator(client, opts)
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	job, _ := o.SubmitScan(ctx, c, testTarget, "")
	_, err := o.AwaitCompletion(ctx, c, job)

	var pollErr *PollError
	require.ErrorAs(t, err, &pollErr)
	require.ErrorIs(t, err, errPermanent)
	require.Equal(t, 1, pollErr.Attempts)
	require.Equal(t, 1, client.statusCalls)
	require.Equal(t, StateFailed, o.State())
	require.Equal(t, 5, ExitCode(err))
}

func TestAwaitCompletion_Backoff(t *testing.T) {
	client := newFakeClient(0, 0, 0, 100)
	o, w, _ := newTestOrchestrator(client, Options{BackoffMultiplier: 2, MaxPollInterval: 15 * time.Second})
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	job, _ := o.SubmitScan(ctx, c, testTarget, "")
	_, err := o.AwaitCompletion(ctx, c, job)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}, w.waits)
}

func TestAwaitCompletion_RequiresSubmittedJob(t *testing.T) {
	client := newFakeClient(100)
	o, _, _ := newTestOrchestrator(client, Options{})
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	_, err := o.AwaitCompletion(ctx, c, "42")
	require.ErrorIs(t, err, ErrNotSubmitted)
	require.Zero(t, client.statusCalls)

	job, _ := o.SubmitScan(ctx, c, testTarget, "")
	_, err = o.AwaitCompletion(ctx, c, "other")
	require.ErrorIs(t, err, ErrNotSubmitted)

	_, err = o.AwaitCompletion(ctx, c, job)
	require.NoError(t, err)
}

func TestConnect_ProbeFailure(t *testing.T) {
	client := newFakeClient(100)
	client.versionErr = errors.New("connection refused")
	o, _, events := newTestOrchestrator(client, Options{})

	_, err := o.Connect(context.Background(), testEndpoint)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.ErrorIs(t, err, ErrConnection)
	require.Equal(t, testEndpoint, connErr.Endpoint)
	require.Equal(t, 3, ExitCode(err))
	require.True(t, client.closed)
	require.Equal(t, StatusFailed, events.events[len(events.events)-1].Status)
}

func TestConnect_DialFailure(t *testing.T) {
	dialErr := errors.New("dial tcp: no such host")
	o := New(DialerFunc(func(context.Context, Endpoint) (Client, error) { return nil, dialErr }), Options{})

	_, err := o.Connect(context.Background(), testEndpoint)
	require.ErrorIs(t, err, ErrConnection)
	require.ErrorIs(t, err, dialErr)
}

func TestConnect_MinServerVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"newer", "2.16.1", false},
		{"equal", "2.14.0", false},
		{"older", "2.10.0", true},
		{"weekly build is not comparable", "D-2024-11-04", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(100)
			client.version = tt.version
			o, _, _ := newTestOrchestrator(client, Options{MinServerVersion: "2.14.0"})

			_, err := o.Connect(context.Background(), testEndpoint)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrConnection)
				require.Contains(t, err.Error(), "older than required")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.version, o.ServerVersion())
		})
	}
}

func TestSubmitScan_Once(t *testing.T) {
	client := newFakeClient(100)
	o, _, _ := newTestOrchestrator(client, Options{})
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	job, err := o.SubmitScan(ctx, c, testTarget, "")
	require.NoError(t, err)
	require.Equal(t, JobID("7"), job)
	require.Equal(t, DefaultPolicy, client.scans[0].Policy)
	require.Equal(t, testTarget, client.scans[0].Target)

	_, err = o.SubmitScan(ctx, c, testTarget, "")
	require.ErrorIs(t, err, ErrAlreadySubmitted)
	require.Equal(t, 1, client.scanCalls)
}

func TestSubmitScan_Rejected(t *testing.T) {
	client := newFakeClient(100)
	client.scanErr = errors.New("url_not_found")
	o, _, _ := newTestOrchestrator(client, Options{})
	ctx := context.Background()

	c, _ := o.Connect(ctx, testEndpoint)
	_, err := o.SubmitScan(ctx, c, testTarget, "Light")

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	require.Equal(t, "Light", subErr.Policy)
	require.Equal(t, 4, ExitCode(err))
	require.Zero(t, client.statusCalls)

	_, err = o.SubmitScan(ctx, c, testTarget, "Light")
	require.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSubmitScan_InvalidTarget(t *testing.T) {
	client := newFakeClient(100)
	o, _, _ := newTestOrchestrator(client, Options{})

	_, err := o.SubmitScan(context.Background(), client, "example.com", "")
	require.ErrorIs(t, err, ErrInvalidSpec)
	require.Zero(t, client.scanCalls)
}

func TestExportReports_BeforeCompletion(t *testing.T) {
	client := newFakeClient(100)
	o, _, _ := newTestOrchestrator(client, Options{})

	_, err := o.ExportReports(context.Background(), client, testTarget, DefaultReportFormats("/tmp"))
	require.ErrorIs(t, err, ErrNotCompleted)
	require.Empty(t, client.reports)
}

func completedRun(t *testing.T, client *fakeClient) *Orchestrator {
	t.Helper()
	o, _, _ := newTestOrchestrator(client, Options{})
	ctx := context.Background()
	c, err := o.Connect(ctx, testEndpoint)
	require.NoError(t, err)
	job, err := o.SubmitScan(ctx, c, testTarget, "")
	require.NoError(t, err)
	_, err = o.AwaitCompletion(ctx, c, job)
	require.NoError(t, err)
	return o
}

func TestExportReports_ContinuesAfterFailure(t *testing.T) {
	client := newFakeClient(100)
	client.reportErrs = map[string]error{"traditional-html": errors.New("template not found")}
	o := completedRun(t, client)

	outcomes, err := o.ExportReports(context.Background(), client, testTarget, DefaultReportFormats("/reports"))

	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
	require.ErrorIs(t, err, ErrExport)
	require.Len(t, exportErr.Failures, 1)
	require.Equal(t, "traditional-html", exportErr.Failures[0].Format)
	require.Len(t, client.reports, 2, "markdown still attempted")
	require.Len(t, outcomes, 2)
	require.False(t, outcomes[0].OK())
	require.True(t, outcomes[1].OK())
	require.Equal(t, 7, ExitCode(err))
}

func TestExportReports_RequestsCarryTarget(t *testing.T) {
	client := newFakeClient(100)
	o := completedRun(t, client)

	formats := []ReportFormat{{Name: "traditional-html", Template: "dark", Destination: "/r/a.html"}}
	_, err := o.ExportReports(context.Background(), client, testTarget, formats)
	require.NoError(t, err)
	require.Equal(t, ReportRequest{Target: testTarget, Format: "traditional-html", Template: "dark", Destination: "/r/a.html"}, client.reports[0])
}

func TestExportReports_DuplicateDestination(t *testing.T) {
	client := newFakeClient(100)
	o := completedRun(t, client)

	formats := []ReportFormat{
		{Name: "traditional-html", Destination: "/r/report"},
		{Name: "markdown", Destination: "/r/./report"},
	}
	_, err := o.ExportReports(context.Background(), client, testTarget, formats)
	require.ErrorIs(t, err, ErrDuplicateDestination)
	require.ErrorIs(t, err, ErrInvalidSpec)
	require.Empty(t, client.reports)
}

func TestExportReports_EmptyFormats(t *testing.T) {
	client := newFakeClient(100)
	o := completedRun(t, client)

	outcomes, err := o.ExportReports(context.Background(), client, testTarget, nil)
	require.NoError(t, err)
	require.Empty(t, outcomes)
}

func TestRun_EndToEnd(t *testing.T) {
	client := newFakeClient(0, 50, 100)
	o, w, _ := newTestOrchestrator(client, Options{})

	res, err := o.Run(context.Background(), RunSpec{
		Endpoint: testEndpoint,
		Target:   testTarget,
		Reports:  DefaultReportFormats("/reports"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"version", "scan", "status", "status", "status",
		"report:traditional-html", "report:markdown",
	}, client.calls)
	require.Len(t, w.waits, 2)
	require.True(t, client.closed)

	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, JobID("7"), res.JobID)
	require.Equal(t, "2.15.0", res.ServerVersion)
	require.Equal(t, DefaultPolicy, res.Policy)
	require.Equal(t, 3, res.Polls)
	require.Equal(t, 100, res.Progress)
	require.Len(t, res.Reports, 2)
	require.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestRun_ConnectionFailureStopsRun(t *testing.T) {
	client := newFakeClient(100)
	client.versionErr = errors.New("connection refused")
	o, _, _ := newTestOrchestrator(client, Options{})

	res, err := o.Run(context.Background(), RunSpec{Endpoint: testEndpoint, Target: testTarget})
	require.ErrorIs(t, err, ErrConnection)
	require.NotNil(t, res)
	require.Equal(t, StateFailed, res.State)
	require.Zero(t, client.scanCalls)
	require.Zero(t, client.statusCalls)
}

func TestRun_InvalidSpec(t *testing.T) {
	dialed := false
	o := New(DialerFunc(func(context.Context, Endpoint) (Client, error) {
		dialed = true
		return nil, errors.New("unreachable")
	}), Options{})

	tests := []struct {
		name string
		spec RunSpec
	}{
		{"missing target", RunSpec{Endpoint: testEndpoint}},
		{"relative target", RunSpec{Endpoint: testEndpoint, Target: "/path"}},
		{"bad scheme", RunSpec{Endpoint: testEndpoint, Target: "ftp://example.com"}},
		{"missing host", RunSpec{Endpoint: Endpoint{Port: 8090}, Target: testTarget}},
		{"bad port", RunSpec{Endpoint: Endpoint{Host: "localhost", Port: 70000}, Target: testTarget}},
		{"unnamed report", RunSpec{Endpoint: testEndpoint, Target: testTarget, Reports: []ReportFormat{{Destination: "/x"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := o.Run(context.Background(), tt.spec)
			require.ErrorIs(t, err, ErrInvalidSpec)
			require.Nil(t, res)
			require.Equal(t, 2, ExitCode(err))
		})
	}
	require.False(t, dialed)
}

func TestRun_InvalidOptions(t *testing.T) {
	o := New(dialerFor(newFakeClient(100)), Options{PollInterval: -time.Second})
	_, err := o.Run(context.Background(), RunSpec{Endpoint: testEndpoint, Target: testTarget})
	require.ErrorIs(t, err, ErrInvalidSpec)
}

func TestRun_AlreadyCancelled(t *testing.T) {
	client := newFakeClient(100)
	o, _, _ := newTestOrchestrator(client, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx, RunSpec{Endpoint: testEndpoint, Target: testTarget})
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, StateCancelled, res.State)
	require.Zero(t, client.versionCalls)
}

func TestRun_CancelledDuringConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := newFakeClient(100)
	client.onVersion = cancel
	o, _, events := newTestOrchestrator(client, Options{})

	res, err := o.Run(ctx, RunSpec{Endpoint: testEndpoint, Target: testTarget})
	require.ErrorIs(t, err, ErrCancelled)
	require.NotErrorIs(t, err, ErrConnection)
	require.Equal(t, CodeCancelled, ErrorCode(err))
	require.Equal(t, 130, ExitCode(err))
	require.Equal(t, StateCancelled, res.State)
	require.Zero(t, client.scanCalls)

	last := events.last()
	assert.Equal(t, PhaseConnect, last.Phase)
	assert.Equal(t, StatusCancelled, last.Status)
}

func TestRun_CancelledDuringSubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := newFakeClient(100)
	client.onScan = cancel
	o, _, _ := newTestOrchestrator(client, Options{})

	res, err := o.Run(ctx, RunSpec{Endpoint: testEndpoint, Target: testTarget})
	require.ErrorIs(t, err, ErrCancelled)
	require.NotErrorIs(t, err, ErrSubmission)
	require.Equal(t, 130, ExitCode(err))
	require.Equal(t, StateCancelled, res.State)
	require.Zero(t, client.statusCalls)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
