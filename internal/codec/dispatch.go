package codec

import (
	"fmt"

	"github.com/sndnv/syn-server-core/internal/herrors"
	"github.com/sndnv/syn-server-core/internal/model"
	"github.com/sndnv/syn-server-core/internal/wire"
)

// DispatchInbound implements the coordinator's command_data_received
// policy: try command-parse first, and on a decode failure there fall
// through to response-parse. If the response parse fails too, the
// frame is reported as herrors.ErrDecode.
//
// This conflates "unknown command name" with "this is actually a
// response" — a malformed command name mid-stream and a wire response
// read identically at this layer. It is kept because making the two
// paths unambiguous needs an explicit envelope discriminator, which
// would change the wire format rather than this dispatcher.
func (r *Registry) DispatchInbound(channel *model.EstablishedChannel, frame []byte, onCommand func(cmd *wire.Command, payload interface{})) error {
	cmd, payload, cmdErr := r.DecodeCommand(frame)
	if cmdErr == nil {
		onCommand(cmd, payload)
		return nil
	}

	resp, respPayload, respErr := r.DecodeResponse(frame)
	if respErr != nil {
		return fmt.Errorf("%w: frame did not parse as command or response", herrors.ErrDecode)
	}

	pending, ok := channel.TakePending(resp.CommandId)
	if !ok {
		return herrors.ErrLookupMiss
	}
	if resp.Status != wire.StatusOK {
		pending.Complete(nil, herrors.ErrAuth)
		return nil
	}
	pending.Complete(respPayload, nil)
	return nil
}
