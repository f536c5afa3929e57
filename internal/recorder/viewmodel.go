package recorder

import "tapmic/internal/domain"

// Project derives the presentation snapshot for a state.
func Project(state domain.RecorderState) domain.ViewModel {
	switch state.Kind {
	case domain.StateLightweightShown:
		return domain.ViewModel{
			IsAttemptingToRecord: true,
			IsVisualizerActive:   true,
			StateDescription:     "showing lightweight",
			CanTranscribe:        true,
		}
	case domain.StatePTTActive:
		return domain.ViewModel{
			IsRecording:        true,
			IsVisualizerActive: true,
			StateDescription:   "recording PTT",
			CanTranscribe:      true,
		}
	case domain.StateHandsFreeLocked:
		return domain.ViewModel{
			IsRecording:        true,
			IsHandsFreeLocked:  true,
			IsVisualizerActive: true,
			StateDescription:   "recording hands-free",
			CanTranscribe:      true,
		}
	case domain.StateStopping:
		return domain.ViewModel{
			IsVisualizerActive: true,
			StateDescription:   "stopping",
			CanTranscribe:      true,
		}
	default:
		return domain.IdleViewModel
	}
}
