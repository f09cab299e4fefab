// Package dimse encodes and decodes DIMSE command sets. Commands are
// always implicit VR little endian per PS3.7, regardless of the
// transfer syntax negotiated for data sets.
package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomlink/errors"
	"github.com/caio-sobreiro/dicomlink/types"
)

// maxElementLength guards against parsing garbage as a huge element.
const maxElementLength = 1 << 20

// ParseCommand parses a DIMSE command set from raw bytes.
func ParseCommand(data []byte) (*types.Message, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: command set too short: %d bytes", errors.ErrInvalidMessage, len(data))
	}

	msg := &types.Message{}
	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		if length > maxElementLength {
			return nil, fmt.Errorf("%w: element %04X,%04X length %d", errors.ErrInvalidMessage, group, element, length)
		}
		valueStart := offset + 8
		valueEnd := valueStart + int(length)
		if valueEnd > len(data) {
			return nil, fmt.Errorf("%w: element %04X,%04X truncated", errors.ErrInvalidMessage, group, element)
		}
		value := data[valueStart:valueEnd]

		if group == 0x0000 {
			switch element {
			case 0x0002:
				msg.AffectedSOPClassUID = trimUID(value)
			case 0x0100:
				if length == 2 {
					msg.CommandField = binary.LittleEndian.Uint16(value)
				}
			case 0x0110:
				if length == 2 {
					msg.MessageID = binary.LittleEndian.Uint16(value)
				}
			case 0x0120:
				if length == 2 {
					msg.MessageIDBeingRespondedTo = binary.LittleEndian.Uint16(value)
				}
			case 0x0700:
				if length == 2 {
					msg.Priority = binary.LittleEndian.Uint16(value)
				}
			case 0x0800:
				if length == 2 {
					msg.CommandDataSetType = binary.LittleEndian.Uint16(value)
				}
			case 0x0900:
				if length == 2 {
					msg.Status = binary.LittleEndian.Uint16(value)
				}
			case 0x1000:
				msg.AffectedSOPInstanceUID = trimUID(value)
			}
		}

		offset = valueEnd
	}

	if msg.CommandField == 0 {
		return nil, fmt.Errorf("%w: missing command field", errors.ErrInvalidMessage)
	}
	return msg, nil
}

// EncodeCommand serializes a DIMSE command set, group length first.
func EncodeCommand(msg *types.Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", errors.ErrInvalidMessage)
	}

	var elements []byte
	if msg.AffectedSOPClassUID != "" {
		elements = appendUID(elements, 0x0002, msg.AffectedSOPClassUID)
	}
	elements = appendUint16(elements, 0x0100, msg.CommandField)
	if msg.MessageID != 0 {
		elements = appendUint16(elements, 0x0110, msg.MessageID)
	}
	if msg.MessageIDBeingRespondedTo != 0 {
		elements = appendUint16(elements, 0x0120, msg.MessageIDBeingRespondedTo)
	}
	if !msg.IsResponse() {
		elements = appendUint16(elements, 0x0700, msg.Priority)
	}
	elements = appendUint16(elements, 0x0800, msg.CommandDataSetType)
	if msg.IsResponse() {
		elements = appendUint16(elements, 0x0900, msg.Status)
	}
	if msg.AffectedSOPInstanceUID != "" {
		elements = appendUID(elements, 0x1000, msg.AffectedSOPInstanceUID)
	}

	out := make([]byte, 0, len(elements)+12)
	out = append(out, 0x00, 0x00, 0x00, 0x00) // Group Length tag
	out = append(out, 0x04, 0x00, 0x00, 0x00) // Length = 4
	out = binary.LittleEndian.AppendUint32(out, uint32(len(elements)))
	out = append(out, elements...)
	return out, nil
}

func appendUint16(buf []byte, element uint16, value uint16) []byte {
	buf = append(buf, 0x00, 0x00)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = append(buf, 0x02, 0x00, 0x00, 0x00)
	buf = binary.LittleEndian.AppendUint16(buf, value)
	return buf
}

func appendUID(buf []byte, element uint16, uid string) []byte {
	// UIDs are padded to even length with a NUL byte
	if len(uid)%2 == 1 {
		uid += "\x00"
	}
	buf = append(buf, 0x00, 0x00)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(uid)))
	buf = append(buf, []byte(uid)...)
	return buf
}

func trimUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}
