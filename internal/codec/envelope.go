// Package codec serializes outbound command/response envelopes and
// parses inbound ones, dispatching parsed responses to the pending
// instruction futures that are waiting for them.
package codec

import (
	"fmt"

	"github.com/sndnv/syn-server-core/internal/herrors"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/wire"
)

// Serializer turns a command-specific payload into its wire body.
type Serializer func(payload interface{}) ([]byte, error)

// Parser turns a wire body back into a command-specific payload.
type Parser func(data []byte) (interface{}, error)

// Registry maps command names to their serializer/parser pair. A
// single Registry is shared by every EstablishedChannel of kind
// COMMAND.
type Registry struct {
	serializers map[string]Serializer
	parsers     map[string]Parser
}

func NewRegistry() *Registry {
	return &Registry{serializers: make(map[string]Serializer), parsers: make(map[string]Parser)}
}

// Register binds name to its serializer and parser. Call during
// startup, before any channel is established.
func (r *Registry) Register(name string, s Serializer, p Parser) {
	r.serializers[name] = s
	r.parsers[name] = p
}

// EncodeCommand serializes an outbound instruction into a Command
// envelope's wire bytes.
func (r *Registry) EncodeCommand(name string, commandId ids.CommandId, payload interface{}, sendResponse bool) ([]byte, error) {
	serialize, ok := r.serializers[name]
	if !ok {
		return nil, fmt.Errorf("%w: no serializer registered for %q", herrors.ErrConfig, name)
	}
	body, err := serialize(payload)
	if err != nil {
		return nil, err
	}
	cmd := &wire.Command{Name: name, CommandId: commandId, Data: body, SendResponse: sendResponse}
	return cmd.Marshal(), nil
}

// DecodeCommand parses an inbound Command envelope and the
// command-specific payload inside it.
func (r *Registry) DecodeCommand(frame []byte) (*wire.Command, interface{}, error) {
	cmd, err := wire.UnmarshalCommand(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", herrors.ErrDecode, err)
	}
	parse, ok := r.parsers[cmd.Name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: no parser registered for %q", herrors.ErrDecode, cmd.Name)
	}
	payload, err := parse(cmd.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", herrors.ErrDecode, err)
	}
	return cmd, payload, nil
}

// EncodeResponse serializes a response envelope. A failed response
// carries no body.
func (r *Registry) EncodeResponse(name string, commandId ids.CommandId, status wire.ResponseStatus, payload interface{}) ([]byte, error) {
	resp := &wire.Response{Name: name, CommandId: commandId, Status: status}
	if status == wire.StatusOK && payload != nil {
		serialize, ok := r.serializers[name]
		if !ok {
			return nil, fmt.Errorf("%w: no serializer registered for %q", herrors.ErrConfig, name)
		}
		body, err := serialize(payload)
		if err != nil {
			return nil, err
		}
		resp.Data = body
	}
	return resp.Marshal(), nil
}

// DecodeResponse parses an inbound Response envelope and, if the
// status is OK, the command-specific payload inside it.
func (r *Registry) DecodeResponse(frame []byte) (*wire.Response, interface{}, error) {
	resp, err := wire.UnmarshalResponse(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", herrors.ErrDecode, err)
	}
	if resp.Status != wire.StatusOK || resp.Data == nil {
		return resp, nil, nil
	}
	parse, ok := r.parsers[resp.Name]
	if !ok {
		return resp, nil, fmt.Errorf("%w: no parser registered for %q", herrors.ErrDecode, resp.Name)
	}
	payload, err := parse(resp.Data)
	if err != nil {
		return resp, nil, fmt.Errorf("%w: %v", herrors.ErrDecode, err)
	}
	return resp, payload, nil
}
