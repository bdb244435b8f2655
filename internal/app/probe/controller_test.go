package probe

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

func TestScanControllerLifecycle(t *testing.T) {
	capture := &fakeCapture{}
	c, err := NewScanController("bluetooth", capture)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	imm := &immediate{}
	c.after = imm.after
	ctx := context.Background()

	if c.State() != domain.ScanUninitialized {
		t.Fatalf("expected uninitialized, got %s", c.State())
	}
	if _, err := c.Poll(ctx, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("poll before init should fail, got %v", err)
	}
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if c.State() != domain.ScanInitialized {
		t.Fatalf("expected initialized, got %s", c.State())
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != domain.ScanScanning {
		t.Fatalf("expected scanning after start, got %s", c.State())
	}

	batch, err := c.Poll(ctx, 20*time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !domain.IsEmptyPoll(batch) {
		t.Fatalf("expected nil sentinel, got %+v", batch)
	}
	if c.State() != domain.ScanIdle {
		t.Fatalf("expected idle after poll, got %s", c.State())
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.State() != domain.ScanStopped {
		t.Fatalf("expected stopped, got %s", c.State())
	}
	if err := c.Start(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start after stop should fail, got %v", err)
	}
	if _, err := c.Poll(ctx, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("poll after stop should fail, got %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}

	want := []string{"start_advertise", "stop_scan", "start_scan", "stop_scan", "stop_advertise"}
	if got := capture.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected capture calls:\n got %v\nwant %v", got, want)
	}
}

func TestPollReturnsObservationsCapturedDuringScan(t *testing.T) {
	o1 := &domain.Observation{SensorID: "device-1"}
	o2 := &domain.Observation{SensorID: "device-2"}
	capture := &fakeCapture{
		onStartScan: func(out ports.Emitter) {
			out.Append(o1)
			out.Append(o2)
		},
	}
	c := startedController(t, capture)
	c.after = (&immediate{}).after

	batch, err := c.Poll(context.Background(), 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(batch) != 2 || batch[0] != o1 || batch[1] != o2 {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestPollClampsTimeout(t *testing.T) {
	c := startedController(t, &fakeCapture{})
	imm := &immediate{}
	c.after = imm.after
	ctx := context.Background()

	for _, timeout := range []time.Duration{time.Second, 20 * time.Second, 0} {
		if _, err := c.Poll(ctx, timeout); err != nil {
			t.Fatalf("poll(%s): %v", timeout, err)
		}
	}

	want := []time.Duration{MinScanDuration, 20 * time.Second, DefaultScanDuration}
	if !reflect.DeepEqual(imm.durations, want) {
		t.Fatalf("expected waits %v, got %v", want, imm.durations)
	}
}

func TestWithScanDurationClamps(t *testing.T) {
	c, err := NewScanController("bluetooth", &fakeCapture{}, WithScanDuration(time.Millisecond))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if c.ScanDuration() != MinScanDuration {
		t.Fatalf("expected %s, got %s", MinScanDuration, c.ScanDuration())
	}
}

func TestPollCancellationStillDrains(t *testing.T) {
	c := startedController(t, &fakeCapture{})
	c.after = never

	pending := &domain.Observation{SensorID: "late"}
	c.Buffer().Append(pending)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	done := make(chan []*domain.Observation, 1)
	go func() {
		batch, err := c.Poll(ctx, 20*time.Second)
		if err != nil {
			t.Errorf("poll: %v", err)
		}
		done <- batch
	}()

	select {
	case batch := <-done:
		if len(batch) != 1 || batch[0] != pending {
			t.Fatalf("expected buffered observation after cancel, got %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not honor cancellation")
	}
}

func TestPollStartScanFailureYieldsDrain(t *testing.T) {
	capture := &fakeCapture{startScanErr: errors.New("radio busy")}
	obs := &recordingObs{}
	c := startedController(t, capture, WithObservability(obs))
	c.after = never

	pending := &domain.Observation{SensorID: "x"}
	c.Buffer().Append(pending)

	batch, err := c.Poll(context.Background(), 0)
	if err != nil {
		t.Fatalf("scan failure must not surface, got %v", err)
	}
	if len(batch) != 1 || batch[0] != pending {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if len(obs.errors) != 1 || obs.errors[0] != "scan_start_failed" {
		t.Fatalf("expected scan_start_failed to be logged, got %v", obs.errors)
	}
}

func TestPollIsNotReentrant(t *testing.T) {
	c := startedController(t, &fakeCapture{})
	release := make(chan time.Time)
	entered := make(chan struct{})
	var once sync.Once
	c.after = func(time.Duration) <-chan time.Time {
		once.Do(func() { close(entered) })
		return release
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := c.Poll(context.Background(), 0); err != nil {
			t.Errorf("first poll: %v", err)
		}
	}()

	<-entered
	if _, err := c.Poll(context.Background(), 0); !errors.Is(err, ErrPollInFlight) {
		t.Fatalf("expected ErrPollInFlight, got %v", err)
	}
	close(release)
	wg.Wait()
}

func TestScanKeepsRunningBetweenPolls(t *testing.T) {
	capture := &fakeCapture{}
	c := startedController(t, capture)
	c.after = (&immediate{}).after
	ctx := context.Background()

	if _, err := c.Poll(ctx, 0); err != nil {
		t.Fatalf("poll: %v", err)
	}
	// an encounter reported between polls belongs to the next cycle
	late := &domain.Observation{SensorID: "between"}
	capture.out.Append(late)

	batch, err := c.Poll(ctx, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(batch) != 1 || batch[0] != late {
		t.Fatalf("expected late arrival in next poll, got %+v", batch)
	}

	want := []string{"start_advertise", "stop_scan", "start_scan", "stop_scan", "start_scan"}
	if got := capture.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("scan should not be stopped after the wait:\n got %v\nwant %v", got, want)
	}
}

func TestStopRunsEveryStepDespiteFailures(t *testing.T) {
	capture := &fakeCapture{
		stopScanErr: errors.New("scan stuck"),
		stopAdvErr:  errors.New("advertiser gone"),
	}
	obs := &recordingObs{}
	c := startedController(t, capture, WithObservability(obs))

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop must not propagate failures, got %v", err)
	}
	calls := capture.Calls()
	if calls[len(calls)-2] != "stop_scan" || calls[len(calls)-1] != "stop_advertise" {
		t.Fatalf("expected both stop steps, got %v", calls)
	}
	if len(obs.errors) != 2 {
		t.Fatalf("expected two logged failures, got %v", obs.errors)
	}
}

func TestStopInterruptsWaitingPoll(t *testing.T) {
	c := startedController(t, &fakeCapture{})
	entered := make(chan struct{})
	c.after = func(time.Duration) <-chan time.Time {
		close(entered)
		return nil
	}

	pending := &domain.Observation{SensorID: "p"}
	c.Buffer().Append(pending)

	done := make(chan []*domain.Observation, 1)
	go func() {
		batch, _ := c.Poll(context.Background(), 0)
		done <- batch
	}()

	<-entered
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case batch := <-done:
		if len(batch) != 1 || batch[0] != pending {
			t.Fatalf("expected drained observation, got %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not release the poll")
	}
	if c.State() != domain.ScanStopped {
		t.Fatalf("poll must not move a stopped controller, got %s", c.State())
	}
}

func TestInitializeEnablesCapture(t *testing.T) {
	capture := &fakeEnablerCapture{enableWorks: true}
	c, err := NewScanController("bluetooth", capture)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if capture.enableCalls != 1 {
		t.Fatalf("expected one enable attempt, got %d", capture.enableCalls)
	}
}

func TestInitializeFailsWhenCaptureStaysDisabled(t *testing.T) {
	capture := &fakeEnablerCapture{}
	obs := &recordingObs{}
	c, err := NewScanController("bluetooth", capture, WithObservability(obs))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	err = c.Initialize(context.Background())
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", err)
	}
	if c.State() != domain.ScanUninitialized {
		t.Fatalf("failed activation must leave the controller uninitialized, got %s", c.State())
	}
	if len(obs.critical) != 1 {
		t.Fatalf("expected activation failure reported once, got %d", len(obs.critical))
	}
	if capture.enableCalls != 1 {
		t.Fatalf("enable must not be retried internally, got %d calls", capture.enableCalls)
	}
}

func TestInitializeWrapsEnableError(t *testing.T) {
	enableErr := errors.New("permission denied")
	capture := &fakeEnablerCapture{enableErr: enableErr}
	c, _ := NewScanController("bluetooth", capture)

	err := c.Initialize(context.Background())
	if !errors.Is(err, ErrCaptureUnavailable) || !errors.Is(err, enableErr) {
		t.Fatalf("expected both sentinel and cause, got %v", err)
	}
}

func TestNewScanControllerValidates(t *testing.T) {
	if _, err := NewScanController("", &fakeCapture{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if _, err := NewScanController("bt", nil); err == nil {
		t.Fatalf("expected error for nil capture")
	}
}
