package codec

import (
	"encoding/json"

	"github.com/sndnv/syn-server-core/internal/ids"
)

// Command-specific payloads are JSON-encoded: the wire envelope
// already carries an opaque length-prefixed body, so any self
// describing codec works; JSON keeps registered commands readable in
// logs without pulling in a schema compiler this exercise has no way
// to run.

// GetDevice requests the descriptor for a known device id.
type GetDevice struct {
	DeviceId ids.DeviceId `json:"device_id"`
}

// DeviceInfo is the GetDevice response payload.
type DeviceInfo struct {
	DeviceId    ids.DeviceId `json:"device_id"`
	OwnerUserId ids.UserId   `json:"owner_user_id"`
	Role        string       `json:"role"`
}

// OpenDataConnection instructs the peer to expect an inbound data
// channel identified by TransientId, with the CEK already agreed out
// of band on this same command channel.
type OpenDataConnection struct {
	TransientId ids.TransientConnectionId `json:"transient_id"`
	MaxDataSize int                       `json:"max_data_size"`
	Compress    bool                      `json:"compress"`
}

// RegisterBuiltinCommands wires the JSON (de)serializers for the
// small fixed vocabulary of commands this core ships with.
func RegisterBuiltinCommands(r *Registry) {
	r.Register("GET_DEVICE", jsonSerializer[GetDevice](), jsonParser[GetDevice]())
	r.Register("DEVICE_INFO", jsonSerializer[DeviceInfo](), jsonParser[DeviceInfo]())
	r.Register("OPEN_DATA_CONNECTION", jsonSerializer[OpenDataConnection](), jsonParser[OpenDataConnection]())
}

func jsonSerializer[T any]() Serializer {
	return func(payload interface{}) ([]byte, error) {
		return json.Marshal(payload)
	}
}

func jsonParser[T any]() Parser {
	return func(data []byte) (interface{}, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
