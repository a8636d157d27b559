package central

import "fmt"

// State is the position of the session in the discovery pipeline.
type State int32

const (
	Idle State = iota
	Scanning
	Connecting
	NegotiatingMtu
	DiscoveringService
	DiscoveringCharacteristic
	SubscribingNotify
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case NegotiatingMtu:
		return "negotiating_mtu"
	case DiscoveringService:
		return "discovering_service"
	case DiscoveringCharacteristic:
		return "discovering_characteristic"
	case SubscribingNotify:
		return "subscribing_notify"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
