package bridge

// Method numbers on the bridge channel. Guest-originated calls sit in the
// low range, host-originated pushes in the high range. Payload encodings
// are owned by the endpoints, not the transport.
const (
	MethodBootFinished uint32 = iota + 1
	MethodClipboard
	MethodWindowState
)

const (
	MethodLaunchApplication uint32 = iota + 0x40
	MethodSetFocusedTask
	MethodSetClipboard
)
