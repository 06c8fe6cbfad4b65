package bucket

import "fmt"

// Status is a member's lifecycle state inside one bucket
type Status uint8

const (
	// Stale members were present before and have not been re-confirmed this pass
	Stale Status = iota
	// Admitted members were placed (or re-placed at a new endpoint) this pass
	Admitted
	// Active members were re-confirmed unchanged this pass
	Active
)

// Persisted status tokens
const (
	TokenNew     = "NEW"
	TokenRunning = "RUNNING"
	TokenOld     = "OLD"
)

var statusTokens = map[Status]string{
	Admitted: TokenNew,
	Active:   TokenRunning,
	Stale:    TokenOld,
}

// Token returns the snapshot token for s
func (s Status) Token() string {
	if tok, ok := statusTokens[s]; ok {
		return tok
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// String returns the snapshot token
func (s Status) String() string {
	return s.Token()
}

// ParseStatus maps a snapshot token back to a Status
func ParseStatus(token string) (Status, error) {
	switch token {
	case TokenNew:
		return Admitted, nil
	case TokenRunning:
		return Active, nil
	case TokenOld:
		return Stale, nil
	default:
		return Stale, fmt.Errorf("unknown status token %q", token)
	}
}

// MarshalText encodes the status as its token
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusTokens[s]; !ok {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.Token()), nil
}

// UnmarshalText decodes a status token
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
