package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"tapmic/internal/clock"
	"tapmic/internal/domain"
	"tapmic/internal/ports"
)

func TestSessionControllerStartStopSavesClip(t *testing.T) {
	t.Parallel()

	clk := clock.NewVirtual(time.Time{})
	audioSession := &fakeAudioSession{chunks: [][]byte{[]byte("abcd"), []byte("ef")}}
	clips := &fakeClipStore{}
	events := &fakeEventSink{}

	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{audioSession}},
		clips,
		events,
		Config{ChunkSize: 512, Clock: clk},
	)

	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	clk.Advance(2 * time.Second)

	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if result.SessionID == "" {
		t.Fatalf("expected session id")
	}
	if result.Mode != domain.ModePTT {
		t.Fatalf("unexpected mode: %s", result.Mode)
	}
	if result.Bytes != 6 {
		t.Fatalf("unexpected byte count: %d", result.Bytes)
	}
	if result.Duration != 2*time.Second {
		t.Fatalf("unexpected duration: %s", result.Duration)
	}

	clip := clips.only(t)
	if !strings.HasPrefix(clip.name, "ptt-") || !strings.HasSuffix(clip.name, result.SessionID) {
		t.Fatalf("unexpected clip name: %q", clip.name)
	}
	if result.ClipPath != clip.Path() {
		t.Fatalf("unexpected clip path: %q", result.ClipPath)
	}
	if clip.data() != "abcdef" || !clip.isClosed() || clip.isDiscarded() {
		t.Fatalf("unexpected clip: data=%q closed=%v discarded=%v", clip.data(), clip.isClosed(), clip.isDiscarded())
	}
	if audioSession.stops() == 0 {
		t.Fatalf("expected audio capture to be stopped")
	}

	saved := events.snapshotClips()
	if len(saved) != 1 || saved[0] != result {
		t.Fatalf("expected clip saved event, got %+v", saved)
	}

	states := events.snapshotStates()
	if len(states) != 3 {
		t.Fatalf("expected 3 state transitions, got %d", len(states))
	}
	if states[0].reason != domain.SessionReasonRecordingStarted {
		t.Fatalf("unexpected first reason: %s", states[0].reason)
	}
	if states[1].reason != domain.SessionReasonFinalizing {
		t.Fatalf("unexpected second reason: %s", states[1].reason)
	}
	if states[2].state != domain.SessionStateIdle || states[2].reason != domain.SessionReasonClipSaved {
		t.Fatalf("unexpected final transition: %+v", states[2])
	}
}

func TestSessionControllerHandsFreeReason(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{&fakeAudioSession{}}},
		&fakeClipStore{},
		events,
		Config{},
	)

	if err := controller.Start(context.Background(), domain.ModeHandsFreeLocked); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	states := events.snapshotStates()
	if len(states) != 1 || states[0].reason != domain.SessionReasonHandsFreeStarted {
		t.Fatalf("unexpected states: %+v", states)
	}
}

func TestSessionControllerStopWithoutActiveSession(t *testing.T) {
	t.Parallel()

	controller := NewSessionController(&fakeAudioCapture{}, &fakeClipStore{}, &fakeEventSink{}, Config{})

	_, err := controller.Stop(context.Background())
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := controller.Abort(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession from abort, got %v", err)
	}
}

func TestSessionControllerAbortDiscardsClip(t *testing.T) {
	t.Parallel()

	audioSession := &fakeAudioSession{chunks: [][]byte{[]byte("abc")}}
	clips := &fakeClipStore{}
	events := &fakeEventSink{}

	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{audioSession}},
		clips,
		events,
		Config{},
	)

	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	idle := controller.WhenIdle()
	if err := controller.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}

	if !clips.only(t).isDiscarded() {
		t.Fatalf("expected clip to be discarded")
	}
	if audioSession.stops() == 0 {
		t.Fatalf("expected audio capture to be stopped")
	}
	assertClosed(t, idle)

	states := events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonRecordingDiscarded {
		t.Fatalf("expected discarded reason, got %s", states[len(states)-1].reason)
	}
	if len(events.snapshotClips()) != 0 {
		t.Fatalf("expected no clip saved event")
	}
}

func TestSessionControllerCancelledStopDiscardsClip(t *testing.T) {
	t.Parallel()

	clips := &fakeClipStore{}
	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{&fakeAudioSession{chunks: [][]byte{[]byte("abc")}}}},
		clips,
		events,
		Config{},
	)

	if err := controller.Start(context.Background(), domain.ModeHandsFreeLocked); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	controller.MarkCancelled()

	result, err := controller.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if result != (domain.StopResult{}) {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if !clips.only(t).isDiscarded() {
		t.Fatalf("expected clip to be discarded")
	}
	if len(events.snapshotClips()) != 0 {
		t.Fatalf("expected no clip saved event")
	}

	states := events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonRecordingDiscarded {
		t.Fatalf("expected discarded reason, got %s", states[len(states)-1].reason)
	}
}

func TestSessionControllerStopWithoutAudio(t *testing.T) {
	t.Parallel()

	clips := &fakeClipStore{}
	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{&fakeAudioSession{}}},
		clips,
		events,
		Config{},
	)

	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := controller.Stop(context.Background())
	if !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
	if !clips.only(t).isDiscarded() {
		t.Fatalf("expected empty clip to be discarded")
	}

	states := events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonNoAudio {
		t.Fatalf("expected no_audio, got %s", states[len(states)-1].reason)
	}
}

func TestSessionControllerClipFinalizeFailure(t *testing.T) {
	t.Parallel()

	clips := &fakeClipStore{closeErr: errors.New("header write failed")}
	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{&fakeAudioSession{chunks: [][]byte{[]byte("abc")}}}},
		clips,
		events,
		Config{},
	)

	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	idle := controller.WhenIdle()
	if _, err := controller.Stop(context.Background()); err == nil {
		t.Fatalf("expected finalize error")
	}
	assertClosed(t, idle)

	states := events.snapshotStates()
	last := states[len(states)-1]
	if last.state != domain.SessionStateError || last.reason != domain.SessionReasonCaptureFailed {
		t.Fatalf("unexpected final transition: %+v", last)
	}
	errs := events.snapshotErrors()
	if len(errs) == 0 || errs[len(errs)-1].code != domain.ErrorCodeClipWrite {
		t.Fatalf("expected clip write error event")
	}
}

func TestSessionControllerStartAudioFailure(t *testing.T) {
	t.Parallel()

	clips := &fakeClipStore{}
	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{err: errors.New("ffmpeg missing")},
		clips,
		events,
		Config{},
	)

	err := controller.Start(context.Background(), domain.ModePTT)
	if err == nil || !strings.Contains(err.Error(), "ffmpeg missing") {
		t.Fatalf("expected wrapped start error, got %v", err)
	}
	if !clips.only(t).isDiscarded() {
		t.Fatalf("expected clip to be discarded after failed start")
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeAudioStart {
		t.Fatalf("expected audio start error, got %+v", errs)
	}
	if status := controller.Status(); status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}
	assertClosed(t, controller.WhenIdle())
}

func TestSessionControllerStartClipFailure(t *testing.T) {
	t.Parallel()

	capture := &fakeAudioCapture{sessions: []ports.AudioSession{&fakeAudioSession{}}}
	events := &fakeEventSink{}
	controller := NewSessionController(capture, &fakeClipStore{createErr: errors.New("read-only")}, events, Config{})

	if err := controller.Start(context.Background(), domain.ModePTT); err == nil {
		t.Fatalf("expected clip error")
	}
	if capture.calls != 0 {
		t.Fatalf("expected capture not to start without a clip")
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeClipWrite {
		t.Fatalf("expected clip write error, got %+v", errs)
	}
}

func TestSessionControllerStartRestartDiscardsPreviousSession(t *testing.T) {
	t.Parallel()

	firstAudio := &fakeAudioSession{chunks: [][]byte{[]byte("a")}}
	secondAudio := &fakeAudioSession{chunks: [][]byte{[]byte("b")}}
	clips := &fakeClipStore{}
	events := &fakeEventSink{}

	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{firstAudio, secondAudio}},
		clips,
		events,
		Config{},
	)

	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	if firstAudio.stops() == 0 {
		t.Fatalf("expected first session audio to be stopped on restart")
	}
	created := clips.snapshot()
	if len(created) != 2 || !created[0].isDiscarded() || created[1].isDiscarded() {
		t.Fatalf("expected only the first clip to be discarded")
	}

	states := events.snapshotStates()
	if states[len(states)-1].reason != domain.SessionReasonRecordingRestarted {
		t.Fatalf("expected recording_restarted reason")
	}
}

func TestSessionControllerAbortLeavesStoppingSessionAlone(t *testing.T) {
	t.Parallel()

	audioSession := &fakeAudioSession{chunks: [][]byte{[]byte("abcd")}, drain: make(chan struct{})}
	clips := &fakeClipStore{}
	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{audioSession}},
		clips,
		events,
		Config{},
	)

	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	type stopOutcome struct {
		result domain.StopResult
		err    error
	}
	stopped := make(chan stopOutcome, 1)
	go func() {
		result, err := controller.Stop(context.Background())
		stopped <- stopOutcome{result: result, err: err}
	}()

	// Stop has claimed the session once it asks the capture to stop; the
	// capture is still flushing.
	deadline := time.Now().Add(time.Second)
	for audioSession.stops() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stop never reached the capture")
		}
		time.Sleep(time.Millisecond)
	}

	if err := controller.Abort(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession while stopping, got %v", err)
	}
	clip := clips.only(t)
	if clip.isDiscarded() {
		t.Fatalf("abort discarded a clip that is being saved")
	}

	close(audioSession.drain)
	var outcome stopOutcome
	select {
	case outcome = <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("stop did not return")
	}
	if outcome.err != nil {
		t.Fatalf("stop failed: %v", outcome.err)
	}
	if outcome.result.ClipPath != clip.Path() || outcome.result.Bytes != 4 {
		t.Fatalf("unexpected result: %+v", outcome.result)
	}
	if !clip.isClosed() || clip.isDiscarded() {
		t.Fatalf("expected saved clip: closed=%v discarded=%v", clip.isClosed(), clip.isDiscarded())
	}
	if saved := events.snapshotClips(); len(saved) != 1 {
		t.Fatalf("expected one clip saved event, got %+v", saved)
	}
}

func TestSessionControllerRestartLeavesStoppingSessionAlone(t *testing.T) {
	t.Parallel()

	firstAudio := &fakeAudioSession{chunks: [][]byte{[]byte("ab")}, drain: make(chan struct{})}
	secondAudio := &fakeAudioSession{}
	clips := &fakeClipStore{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{firstAudio, secondAudio}},
		clips,
		&fakeEventSink{},
		Config{},
	)

	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	stopped := make(chan error, 1)
	go func() {
		_, err := controller.Stop(context.Background())
		stopped <- err
	}()
	deadline := time.Now().Add(time.Second)
	for firstAudio.stops() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stop never reached the capture")
		}
		time.Sleep(time.Millisecond)
	}

	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	close(firstAudio.drain)
	if err := <-stopped; err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	created := clips.snapshot()
	if len(created) != 2 || created[0].isDiscarded() || !created[0].isClosed() {
		t.Fatalf("expected the first clip to be saved by its stop")
	}
	if status := controller.Status(); status.State != domain.SessionStateRecording {
		t.Fatalf("expected the second session to stay active, got %+v", status)
	}
}

func TestSessionControllerWhenIdle(t *testing.T) {
	t.Parallel()

	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{&fakeAudioSession{chunks: [][]byte{[]byte("abc")}}}},
		&fakeClipStore{},
		&fakeEventSink{},
		Config{},
	)

	assertClosed(t, controller.WhenIdle())

	if err := controller.Start(context.Background(), domain.ModePTT); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	first, second := controller.WhenIdle(), controller.WhenIdle()
	select {
	case <-first:
		t.Fatalf("expected idle signal to wait for the active session")
	default:
	}

	if _, err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	assertClosed(t, first)
	assertClosed(t, second)
}

func TestSessionControllerStatusActive(t *testing.T) {
	t.Parallel()

	controller := NewSessionController(
		&fakeAudioCapture{sessions: []ports.AudioSession{&fakeAudioSession{chunks: [][]byte{[]byte("abc")}}}},
		&fakeClipStore{},
		&fakeEventSink{},
		Config{},
	)

	if status := controller.Status(); status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("unexpected idle status: %+v", status)
	}
	if err := controller.Start(context.Background(), domain.ModeHandsFreeLocked); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	status := controller.Status()
	if status.State != domain.SessionStateRecording || !status.Active || status.Mode != domain.ModeHandsFreeLocked {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func assertClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("expected channel to be closed")
	}
}

type fakeAudioCapture struct {
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	readCalls int
	stopCalls int
	stopErr   error
	// drain, when set, holds the end of the stream until it is closed.
	drain chan struct{}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	f.readCalls++
	if f.index >= len(f.chunks) {
		drain := f.drain
		f.mu.Unlock()
		if drain != nil {
			<-drain
		}
		return 0, io.EOF
	}
	defer f.mu.Unlock()
	n := copy(p, f.chunks[f.index])
	f.index++
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeAudioSession) reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls
}

type fakeClipStore struct {
	mu        sync.Mutex
	clips     []*fakeClip
	createErr error
	closeErr  error
}

func (f *fakeClipStore) Create(name string, _ ports.AudioConfig) (ports.ClipWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	clip := &fakeClip{name: name, closeErr: f.closeErr}
	f.clips = append(f.clips, clip)
	return clip, nil
}

func (f *fakeClipStore) snapshot() []*fakeClip {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeClip, len(f.clips))
	copy(out, f.clips)
	return out
}

func (f *fakeClipStore) only(t *testing.T) *fakeClip {
	t.Helper()
	clips := f.snapshot()
	if len(clips) != 1 {
		t.Fatalf("expected one clip, got %d", len(clips))
	}
	return clips[0]
}

type fakeClip struct {
	mu        sync.Mutex
	name      string
	buf       bytes.Buffer
	writeErr  error
	closeErr  error
	closed    bool
	discarded bool
}

func (f *fakeClip) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.buf.Write(p)
}

func (f *fakeClip) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeClip) Discard() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = true
	return nil
}

func (f *fakeClip) Path() string { return "/clips/" + f.name + ".wav" }

func (f *fakeClip) data() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

func (f *fakeClip) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeClip) isDiscarded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discarded
}

type fakeEventSink struct {
	mu sync.Mutex

	states []stateEvent
	clips  []domain.StopResult
	errors []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) ClipSaved(result domain.StopResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clips = append(f.clips, result)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotClips() []domain.StopResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StopResult, len(f.clips))
	copy(out, f.clips)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}
