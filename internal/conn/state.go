package conn

// State is the lifecycle state of a connection.
type State int32

const (
	// StateHandshaking indicates the handshake is in progress. On the
	// listening side this covers waiting for the peer's first Hello.
	StateHandshaking State = iota

	// StateConnected indicates the handshake completed and state
	// synchronization is running.
	StateConnected

	// StateClosing indicates a shutdown is in progress.
	StateClosing

	// StateClosed is terminal; the connection's resources are released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Mode selects which side of the handshake a connection drives.
type Mode int

const (
	// ModeConnect actively opens the connection (sends the first Hello).
	ModeConnect Mode = iota

	// ModeListen accepts a connection opened by the peer.
	ModeListen
)

func (m Mode) String() string {
	if m == ModeConnect {
		return "connect"
	}
	return "listen"
}

// handshakePhase tracks progress within StateHandshaking.
type handshakePhase int

const (
	// phaseHello: waiting for the peer's Hello.
	phaseHello handshakePhase = iota

	// phaseAgreement: Hello exchanged, waiting for the Agreement.
	phaseAgreement
)
