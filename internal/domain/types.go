package domain

import (
	"fmt"
	"time"
)

// StateKind names the phase of the key interaction.
type StateKind string

const (
	StateIdle             StateKind = "idle"
	StateLightweightShown StateKind = "lightweight_shown"
	StatePTTActive        StateKind = "ptt_active"
	StateHandsFreeLocked  StateKind = "hands_free_locked"
	StateStopping         StateKind = "stopping"
)

// RecorderState is the current interaction state. Since is only set for
// states whose elapsed time matters.
type RecorderState struct {
	Kind  StateKind `json:"kind"`
	Since time.Time `json:"since,omitempty"`
}

func (s RecorderState) String() string {
	if s.Since.IsZero() {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(since=%s)", s.Kind, s.Since.Format(time.StampMilli))
}

// Idle returns the initial state.
func Idle() RecorderState { return RecorderState{Kind: StateIdle} }

// Event is the input alphabet of the recorder state machine.
type Event string

const (
	EventKeyDown            Event = "key_down"
	EventKeyUp              Event = "key_up"
	EventPromotionTimeout   Event = "promotion_timeout"
	EventRecordingComplete  Event = "recording_complete"
	EventAudioLevelExceeded Event = "audio_level_exceeded"
	EventUserCancelled      Event = "user_cancelled"
	EventMisTouchTimeout    Event = "mis_touch_timeout"
)

// RecordingMode selects how a recording ends.
type RecordingMode string

const (
	ModePTT             RecordingMode = "ptt"
	ModeHandsFreeLocked RecordingMode = "hands_free_locked"
)

// Sound identifies a short audible cue.
type Sound string

const (
	SoundKeyDown Sound = "key_down"
	SoundKeyUp   Sound = "key_up"
	SoundLock    Sound = "lock"
	SoundCancel  Sound = "cancel"
)

// Sounds lists every cue kind.
var Sounds = []Sound{SoundKeyDown, SoundKeyUp, SoundLock, SoundCancel}

// CommandKind names a side effect requested by the state machine.
type CommandKind string

const (
	CommandShowLightweightUI    CommandKind = "show_lightweight_ui"
	CommandStartRecording       CommandKind = "start_recording"
	CommandStopRecording        CommandKind = "stop_recording"
	CommandHideUI               CommandKind = "hide_ui"
	CommandPlaySound            CommandKind = "play_sound"
	CommandPlaySoundDelayed     CommandKind = "play_sound_delayed"
	CommandMarkCancelled        CommandKind = "mark_cancelled"
	CommandUpdateUI             CommandKind = "update_ui"
	CommandSchedulePromotion    CommandKind = "schedule_promotion"
	CommandScheduleMisTouchHide CommandKind = "schedule_mis_touch_hide"
	CommandCancelTimers         CommandKind = "cancel_timers"
	CommandClearCooldowns       CommandKind = "clear_cooldowns"
)

// Command is a side-effect descriptor. Only the fields relevant to Kind are
// set, which keeps commands comparable with ==.
type Command struct {
	Kind      CommandKind
	Mode      RecordingMode
	Sound     Sound
	Delay     time.Duration
	ViewModel ViewModel
}

func (c Command) String() string {
	switch c.Kind {
	case CommandStartRecording:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Mode)
	case CommandPlaySound:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Sound)
	case CommandPlaySoundDelayed:
		return fmt.Sprintf("%s(%s, %s)", c.Kind, c.Sound, c.Delay)
	case CommandSchedulePromotion, CommandScheduleMisTouchHide:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Delay)
	case CommandUpdateUI:
		return fmt.Sprintf("%s(%s)", c.Kind, c.ViewModel.StateDescription)
	default:
		return string(c.Kind)
	}
}

func ShowLightweightUI() Command { return Command{Kind: CommandShowLightweightUI} }

func StartRecording(mode RecordingMode) Command {
	return Command{Kind: CommandStartRecording, Mode: mode}
}

func StopRecording() Command { return Command{Kind: CommandStopRecording} }

func HideUI() Command { return Command{Kind: CommandHideUI} }

func PlaySound(sound Sound) Command { return Command{Kind: CommandPlaySound, Sound: sound} }

func PlaySoundDelayed(sound Sound, delay time.Duration) Command {
	return Command{Kind: CommandPlaySoundDelayed, Sound: sound, Delay: delay}
}

func MarkCancelled() Command { return Command{Kind: CommandMarkCancelled} }

func UpdateUI(vm ViewModel) Command { return Command{Kind: CommandUpdateUI, ViewModel: vm} }

func SchedulePromotion(delay time.Duration) Command {
	return Command{Kind: CommandSchedulePromotion, Delay: delay}
}

func ScheduleMisTouchHide(delay time.Duration) Command {
	return Command{Kind: CommandScheduleMisTouchHide, Delay: delay}
}

func CancelTimers() Command { return Command{Kind: CommandCancelTimers} }

func ClearCooldowns() Command { return Command{Kind: CommandClearCooldowns} }

// ViewModel is the presentation snapshot derived from a RecorderState.
type ViewModel struct {
	IsRecording          bool   `json:"isRecording"`
	IsHandsFreeLocked    bool   `json:"isHandsFreeLocked"`
	IsAttemptingToRecord bool   `json:"isAttemptingToRecord"`
	IsVisualizerActive   bool   `json:"isVisualizerActive"`
	StateDescription     string `json:"stateDescription"`
	CanTranscribe        bool   `json:"canTranscribe"`
}

// IdleViewModel is the projection of the idle state.
var IdleViewModel = ViewModel{
	StateDescription: "idle",
	CanTranscribe:    true,
}

// SessionState models the lifecycle of the underlying capture session.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateRecording SessionState = "recording"
	SessionStateStopping  SessionState = "stopping"
	SessionStateError     SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold            SessionStateReason = "mic_cold"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonHandsFreeStarted   SessionStateReason = "hands_free_started"
	SessionReasonRecordingRestarted SessionStateReason = "recording_restarted"
	SessionReasonFinalizing         SessionStateReason = "finalizing"
	SessionReasonClipSaved          SessionStateReason = "clip_saved"
	SessionReasonRecordingDiscarded SessionStateReason = "recording_discarded"
	SessionReasonNoAudio            SessionStateReason = "no_audio"
	SessionReasonCaptureFailed      SessionStateReason = "capture_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeAudioStart  ErrorCode = "audio_start"
	ErrorCodeAudioStop   ErrorCode = "audio_stop"
	ErrorCodeAudioStream ErrorCode = "audio_stream"
	ErrorCodeClipWrite   ErrorCode = "clip_write"
	ErrorCodeKeySource   ErrorCode = "key_source"
)

// StopResult is returned once a capture session is finalized.
type StopResult struct {
	SessionID string        `json:"sessionId"`
	Mode      RecordingMode `json:"mode"`
	ClipPath  string        `json:"clipPath"`
	Bytes     int64         `json:"bytes"`
	Duration  time.Duration `json:"duration"`
}

// Status summarizes the current capture session.
type Status struct {
	State   SessionState  `json:"state"`
	Active  bool          `json:"active"`
	Mode    RecordingMode `json:"mode,omitempty"`
	Message string        `json:"message,omitempty"`
}
