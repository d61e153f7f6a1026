package tags

// Status is the severity level of a rule tag. The order of the constants is
// the severity order: a higher value is worse.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusUnreachable
	StatusUnknown
)

// StatusFromInt decodes a persisted status code. Codes outside the known
// range map to StatusUnknown.
func StatusFromInt(code int) Status {
	switch Status(code) {
	case StatusOK, StatusWarning, StatusError, StatusUnreachable:
		return Status(code)
	default:
		return StatusUnknown
	}
}

// Int returns the integer codec value for persistence.
func (s Status) Int() int {
	return int(s)
}

// WorseThan reports whether s is strictly more severe than other.
func (s Status) WorseThan(other Status) bool {
	return s > other
}

// BetterThan reports whether s is strictly less severe than other.
func (s Status) BetterThan(other Status) bool {
	return s < other
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusError:
		return "ERROR"
	case StatusUnreachable:
		return "UNREACHABLE"
	default:
		return "UNKNOWN"
	}
}
