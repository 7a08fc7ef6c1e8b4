package conn

type State uint8

const (
	StateAwaitingRequest State = iota + 1
	StateReadingBody
	StateAwaitingResponse
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateReadingBody:
		return "reading-body"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
