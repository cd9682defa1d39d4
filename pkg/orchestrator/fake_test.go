package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeClient is a scripted scanner session.
type fakeClient struct {
	mu sync.Mutex

	version    string
	versionErr error
	jobID      JobID
	scanErr    error
	progress   []int
	statusErrs []error
	reportErrs map[string]error
	onVersion  func()
	onScan     func()

	versionCalls int
	scanCalls    int
	statusCalls  int
	okStatus     int
	scans        []ScanRequest
	reports      []ReportRequest
	closed       bool
	calls        []string
}

func newFakeClient(progress ...int) *fakeClient {
	return &fakeClient{version: "2.15.0", jobID: "7", progress: progress}
}

func (f *fakeClient) Version(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionCalls++
	f.calls = append(f.calls, "version")
	if f.onVersion != nil {
		f.onVersion()
		return "", context.Canceled
	}
	return f.version, f.versionErr
}

func (f *fakeClient) Scan(_ context.Context, req ScanRequest) (JobID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanCalls++
	f.calls = append(f.calls, "scan")
	f.scans = append(f.scans, req)
	if f.onScan != nil {
		f.onScan()
		return "", context.Canceled
	}
	if f.scanErr != nil {
		return "", f.scanErr
	}
	return f.jobID, nil
}

func (f *fakeClient) Status(context.Context, JobID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.statusCalls
	f.statusCalls++
	f.calls = append(f.calls, "status")
	if i < len(f.statusErrs) && f.statusErrs[i] != nil {
		return 0, f.statusErrs[i]
	}
	if len(f.progress) == 0 {
		return 0, nil
	}
	idx := f.okStatus
	f.okStatus++
	if idx >= len(f.progress) {
		idx = len(f.progress) - 1
	}
	return f.progress[idx], nil
}

func (f *fakeClient) GenerateReport(_ context.Context, req ReportRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "report:"+req.Format)
	f.reports = append(f.reports, req)
	return f.reportErrs[req.Format]
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func dialerFor(c Client) Dialer {
	return DialerFunc(func(context.Context, Endpoint) (Client, error) { return c, nil })
}

// recordingWait records each requested suspension without sleeping.
type recordingWait struct {
	mu     sync.Mutex
	waits  []time.Duration
	before func(n int)
}

func (r *recordingWait) Wait(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	n := len(r.waits)
	r.mu.Unlock()
	if r.before != nil {
		r.before(n)
	}
	return ctx.Err()
}

func (r *recordingWait) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, w := range r.waits {
		sum += w
	}
	return sum
}

type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) OnEvent(ev ProgressEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) last() ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return ProgressEvent{}
	}
	return l.events[len(l.events)-1]
}

func (l *eventLog) progress() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []int
	for _, ev := range l.events {
		if ev.Phase == PhasePoll && ev.Status == StatusRunning {
			out = append(out, ev.Progress)
		}
	}
	return out
}

type transientErr struct{}

func (transientErr) Error() string   { return "scanner busy" }
func (transientErr) Temporary() bool { return true }

var errPermanent = errors.New("bad_scan_id")

var testEndpoint = Endpoint{Host: "localhost", Port: 8090}

const testTarget = "https://example.com"
