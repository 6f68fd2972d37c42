package pipeline

// State is a stage of the relay. States only ever move forward.
type State int

const (
	// StateInit is the state of a pipeline before validation
	StateInit State = iota
	// StateResolvingEndpoints validates and resolves both URLs
	StateResolvingEndpoints
	// StateBuildingTransports builds source and sink concurrently
	StateBuildingTransports
	// StateForwarding moves frames from source to sink one at a time
	StateForwarding
	// StateSucceeded is Terminated{Success}: the source reached end of stream
	StateSucceeded
	// StateFailed is Terminated{Error}
	StateFailed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateResolvingEndpoints:
		return "ResolvingEndpoints"
	case StateBuildingTransports:
		return "BuildingTransports"
	case StateForwarding:
		return "Forwarding"
	case StateSucceeded:
		return "Terminated(Success)"
	case StateFailed:
		return "Terminated(Error)"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is final
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}
