package flow

import "fmt"

// Stage of the ceremony, in strict order.
type Stage int

const (
	StageSetupTrustees Stage = iota
	StageKeyDistribution
	StageSetupEncrypters
	StageEncrypterDistribution
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageSetupTrustees:
		return "SetupTrustees"
	case StageKeyDistribution:
		return "KeyDistribution"
	case StageSetupEncrypters:
		return "SetupEncrypters"
	case StageEncrypterDistribution:
		return "EncrypterDistribution"
	case StageReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	if s < StageSetupTrustees || s > StageReady {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	for candidate := StageSetupTrustees; candidate <= StageReady; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", string(text))
}
