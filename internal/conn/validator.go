package conn

import (
	"log/slog"

	"github.com/statewire/statewire/internal/protocol"
)

// validatorHistory caps how many control frames the validator remembers.
const validatorHistory = 8192

// Validator is a debug-only consistency checker. It flags more than one
// translate or rotate for the same entity within one control frame, which
// is usually a duplicate-send bug on the peer. Purely observational; it
// never alters connection behavior.
type Validator struct {
	logger *slog.Logger

	frames map[protocol.ControlFrame]map[protocol.WireEntityID]*entityCounts
	order  []protocol.ControlFrame
}

type entityCounts struct {
	translate int
	rotate    int
}

// NewValidator creates a validator reporting through logger.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{
		logger: logger,
		frames: make(map[protocol.ControlFrame]map[protocol.WireEntityID]*entityCounts),
	}
}

// Push observes one inbound message for the given control frame.
func (v *Validator) Push(cf protocol.ControlFrame, msg protocol.Message) {
	id, ok := protocol.MessageEntity(msg)
	if !ok {
		return
	}

	entities, ok := v.frames[cf]
	if !ok {
		entities = make(map[protocol.WireEntityID]*entityCounts)
		v.frames[cf] = entities
		v.order = append(v.order, cf)

		if len(v.order) > validatorHistory {
			delete(v.frames, v.order[0])
			v.order = v.order[1:]
		}
	}

	counts, ok := entities[id]
	if !ok {
		counts = &entityCounts{}
		entities[id] = counts
	}

	switch msg.(type) {
	case protocol.EntityTranslate:
		counts.translate++
		if counts.translate > 1 {
			v.logger.Warn("duplicate entity translate within control frame",
				slog.Uint64("entity", uint64(id)),
				slog.Uint64("control_frame", uint64(cf)),
				slog.Int("count", counts.translate))
		}
	case protocol.EntityRotate:
		counts.rotate++
		if counts.rotate > 1 {
			v.logger.Warn("duplicate entity rotate within control frame",
				slog.Uint64("entity", uint64(id)),
				slog.Uint64("control_frame", uint64(cf)),
				slog.Int("count", counts.rotate))
		}
	}
}
