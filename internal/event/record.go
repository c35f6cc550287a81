package event

import (
	"errors"
	"fmt"
)

// ErrBadRecord reports bytes that are not a valid record.
var ErrBadRecord = errors.New("event: malformed record")

// TagPayload is the first byte of a payload record. Control records start
// with their compact Code, which is always below it.
const TagPayload byte = 0xFF

// Record is one entry of a multiplexed stream: either a two-byte control
// record [code, value] or a payload record [TagPayload, payload...].
type Record struct {
	Control bool
	Kind    Kind
	Value   byte
	Payload []byte
}

// EncodeRecord builds the two-byte control record for k.
func EncodeRecord(k Kind, value byte) ([]byte, error) {
	code, err := k.Code()
	if err != nil {
		return nil, err
	}
	return []byte{byte(code), value}, nil
}

// PayloadRecord prefixes payload with TagPayload.
func PayloadRecord(payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = TagPayload
	copy(out[1:], payload)
	return out
}

// DecodeRecord classifies b by its first byte. A payload record's Payload
// aliases b.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) == 0 {
		return Record{}, fmt.Errorf("%w: empty", ErrBadRecord)
	}
	if b[0] == TagPayload {
		return Record{Payload: b[1:]}, nil
	}
	if len(b) != 2 {
		return Record{}, fmt.Errorf("%w: control record of %d bytes", ErrBadRecord, len(b))
	}
	k, err := Code(b[0]).Kind()
	if err != nil {
		return Record{}, err
	}
	return Record{Control: true, Kind: k, Value: b[1]}, nil
}

// Event returns the control record as an Event.
func (r Record) Event() Event {
	return Event{Kind: r.Kind, Value: int32(r.Value)}
}
