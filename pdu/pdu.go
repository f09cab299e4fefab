// Package pdu implements the client side of the DICOM Upper Layer
// Protocol: framing, association negotiation PDUs and P-DATA-TF
// fragmentation. It performs no I/O beyond the reader/writer it is
// handed and holds no connection state.
package pdu

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/caio-sobreiro/dicomlink/errors"
	"github.com/caio-sobreiro/dicomlink/types"
)

// maxPDULength bounds inbound PDUs; anything larger is a framing error.
const maxPDULength = 16 << 20

// ReadPDU reads one framed PDU from r.
func ReadPDU(r io.Reader) (*types.PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	pduType := header[0]
	length := binary.BigEndian.Uint32(header[2:6])
	if length > maxPDULength {
		return nil, errors.NewPDUError(pduType, fmt.Sprintf("length %d exceeds limit", length))
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return &types.PDU{Type: pduType, Length: length, Data: data}, nil
}

// WritePDU frames data as a PDU of the given type and writes it to w.
func WritePDU(w io.Writer, pduType byte, data []byte) error {
	header := make([]byte, 6)
	header[0] = pduType
	binary.BigEndian.PutUint32(header[2:6], uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

// ProposedContext is a presentation context offered in an A-ASSOCIATE-RQ.
type ProposedContext struct {
	ID             byte
	AbstractSyntax string
}

// implementationClassUID identifies this implementation in user information.
const implementationClassUID = "1.2.826.0.1.3680043.10.1242"

const implementationVersionName = "DICOMLINK-0.1"

// BuildAssociateRQ serializes the A-ASSOCIATE-RQ body. Presentation
// context IDs must be odd and unique; transfer syntaxes are proposed in
// preference order for every context.
func BuildAssociateRQ(callingAE, calledAE string, maxPDU uint32, contexts []ProposedContext, transferSyntaxes []string) []byte {
	buf := make([]byte, 0, 1024)

	buf = append(buf, 0x00, 0x01) // Protocol version
	buf = append(buf, 0x00, 0x00) // Reserved
	buf = append(buf, paddedAETitle(calledAE)...)
	buf = append(buf, paddedAETitle(callingAE)...)
	buf = append(buf, make([]byte, 32)...) // Reserved

	// Application Context Item
	buf = append(buf, 0x10, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(types.ApplicationContextUID)))
	buf = append(buf, []byte(types.ApplicationContextUID)...)

	for _, pc := range contexts {
		buf = appendPresentationContext(buf, pc, transferSyntaxes)
	}

	buf = appendUserInformation(buf, maxPDU)
	return buf
}

func paddedAETitle(title string) []byte {
	padded := make([]byte, 16)
	copy(padded, title)
	for i := len(title); i < 16; i++ {
		padded[i] = ' '
	}
	return padded
}

func appendPresentationContext(buf []byte, pc ProposedContext, transferSyntaxes []string) []byte {
	start := len(buf)

	buf = append(buf, 0x20, 0x00)
	buf = append(buf, 0x00, 0x00) // Length placeholder
	buf = append(buf, pc.ID)
	buf = append(buf, 0x00, 0x00, 0x00) // Reserved

	// Abstract Syntax Sub-Item
	buf = append(buf, 0x30, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(pc.AbstractSyntax)))
	buf = append(buf, []byte(pc.AbstractSyntax)...)

	// Transfer Syntax Sub-Items, first is preferred
	for _, ts := range transferSyntaxes {
		buf = append(buf, 0x40, 0x00)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(ts)))
		buf = append(buf, []byte(ts)...)
	}

	binary.BigEndian.PutUint16(buf[start+2:start+4], uint16(len(buf)-start-4))
	return buf
}

func appendUserInformation(buf []byte, maxPDU uint32) []byte {
	start := len(buf)

	buf = append(buf, 0x50, 0x00)
	buf = append(buf, 0x00, 0x00) // Length placeholder

	// Maximum Length Sub-Item
	buf = append(buf, 0x51, 0x00, 0x00, 0x04)
	buf = binary.BigEndian.AppendUint32(buf, maxPDU)

	// Implementation Class UID Sub-Item
	buf = append(buf, 0x52, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(implementationClassUID)))
	buf = append(buf, []byte(implementationClassUID)...)

	// Implementation Version Name Sub-Item
	buf = append(buf, 0x55, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(implementationVersionName)))
	buf = append(buf, []byte(implementationVersionName)...)

	binary.BigEndian.PutUint16(buf[start+2:start+4], uint16(len(buf)-start-4))
	return buf
}

// ContextResult is one presentation context outcome from an A-ASSOCIATE-AC.
type ContextResult struct {
	Result         byte
	TransferSyntax string
}

// Accepted reports whether the acceptor took the context.
func (r ContextResult) Accepted() bool { return r.Result == 0x00 }

// ACInfo holds the fields of an A-ASSOCIATE-AC the client cares about.
type ACInfo struct {
	MaxPDULength uint32
	Contexts     map[byte]ContextResult
}

// ParseAssociateAC parses the A-ASSOCIATE-AC body: presentation context
// results and the acceptor's maximum PDU length.
func ParseAssociateAC(data []byte) (*ACInfo, error) {
	// 68 bytes of fixed fields precede the variable items
	if len(data) < 68 {
		return nil, errors.NewPDUError(types.TypeAssociateAC, fmt.Sprintf("body too short: %d bytes", len(data)))
	}

	info := &ACInfo{Contexts: make(map[byte]ContextResult)}
	offset := 68
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		itemEnd := offset + 4 + int(itemLength)
		if itemEnd > len(data) {
			return nil, errors.NewPDUError(types.TypeAssociateAC, fmt.Sprintf("item 0x%02X exceeds body", itemType))
		}
		item := data[offset+4 : itemEnd]

		switch itemType {
		case 0x21: // Presentation Context Result
			if len(item) < 4 {
				return nil, errors.NewPDUError(types.TypeAssociateAC, "presentation context result too short")
			}
			ctxID := item[0]
			result := item[2]
			transferSyntax := ""
			subOffset := 4
			for subOffset+4 <= len(item) {
				subType := item[subOffset]
				subLength := binary.BigEndian.Uint16(item[subOffset+2 : subOffset+4])
				subEnd := subOffset + 4 + int(subLength)
				if subEnd > len(item) {
					break
				}
				if subType == 0x40 && subLength > 0 {
					transferSyntax = normalizeUID(item[subOffset+4 : subEnd])
				}
				subOffset = subEnd
			}
			info.Contexts[ctxID] = ContextResult{Result: result, TransferSyntax: transferSyntax}

		case 0x50: // User Information
			subOffset := 0
			for subOffset+4 <= len(item) {
				subType := item[subOffset]
				subLength := binary.BigEndian.Uint16(item[subOffset+2 : subOffset+4])
				subEnd := subOffset + 4 + int(subLength)
				if subEnd > len(item) {
					break
				}
				if subType == 0x51 && subLength == 4 {
					info.MaxPDULength = binary.BigEndian.Uint32(item[subOffset+4 : subEnd])
				}
				subOffset = subEnd
			}
		}

		offset = itemEnd
	}

	return info, nil
}

// ParseAssociateRJ parses the A-ASSOCIATE-RJ body.
func ParseAssociateRJ(data []byte) (types.RejectResult, types.RejectSource, types.RejectReason, error) {
	if len(data) < 4 {
		return 0, 0, 0, errors.NewPDUError(types.TypeAssociateRJ, fmt.Sprintf("body too short: %d bytes", len(data)))
	}
	return types.RejectResult(data[1]), types.RejectSource(data[2]), types.RejectReason(data[3]), nil
}

// BuildAbort serializes the A-ABORT body.
func BuildAbort(source types.AbortSource, reason types.AbortReason) []byte {
	return []byte{0x00, 0x00, byte(source), byte(reason)}
}

// ParseAbort parses the A-ABORT body.
func ParseAbort(data []byte) (types.AbortSource, types.AbortReason, error) {
	if len(data) < 4 {
		return 0, 0, errors.NewPDUError(types.TypeAbort, fmt.Sprintf("body too short: %d bytes", len(data)))
	}
	return types.AbortSource(data[2]), types.AbortReason(data[3]), nil
}

// BuildRelease serializes the A-RELEASE-RQ/RP body, four reserved bytes.
func BuildRelease() []byte {
	return make([]byte, 4)
}

// PDV is one presentation data value item from a P-DATA-TF PDU.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// ParsePDVItems splits a P-DATA-TF body into its PDV items.
func ParsePDVItems(data []byte) ([]PDV, error) {
	var items []PDV
	offset := 0
	for offset < len(data) {
		if offset+6 > len(data) {
			return nil, errors.NewPDUError(types.TypePDataTF, "truncated PDV item header")
		}
		itemLength := binary.BigEndian.Uint32(data[offset : offset+4])
		if itemLength < 2 {
			return nil, errors.NewPDUError(types.TypePDataTF, fmt.Sprintf("PDV item length %d too small", itemLength))
		}
		itemEnd := offset + 4 + int(itemLength)
		if itemEnd > len(data) {
			return nil, errors.NewPDUError(types.TypePDataTF, "PDV item exceeds body")
		}

		ctxID := data[offset+4]
		header := data[offset+5]
		items = append(items, PDV{
			ContextID: ctxID,
			Command:   header&0x01 != 0,
			Last:      header&0x02 != 0,
			Data:      data[offset+6 : itemEnd],
		})
		offset = itemEnd
	}
	return items, nil
}

// BuildPDataFragments splits a DIMSE message into P-DATA-TF bodies that
// fit within the peer's maximum PDU length. The command set goes first,
// then the data set fragments, each PDU carrying one PDV item.
func BuildPDataFragments(ctxID byte, commandData, datasetData []byte, maxPDU uint32) [][]byte {
	// 6 bytes PDV header inside the PDU body
	chunkSize := int(maxPDU) - 6
	if chunkSize <= 0 {
		chunkSize = 16384 - 6
	}

	var fragments [][]byte
	fragments = append(fragments, buildPDVFragments(ctxID, commandData, chunkSize, true)...)
	if len(datasetData) > 0 {
		fragments = append(fragments, buildPDVFragments(ctxID, datasetData, chunkSize, false)...)
	}
	return fragments
}

func buildPDVFragments(ctxID byte, data []byte, chunkSize int, command bool) [][]byte {
	var fragments [][]byte
	for start := 0; start < len(data) || start == 0; start += chunkSize {
		end := start + chunkSize
		last := end >= len(data)
		if last {
			end = len(data)
		}

		var header byte
		if command {
			header |= 0x01
		}
		if last {
			header |= 0x02
		}

		chunk := data[start:end]
		body := make([]byte, 0, len(chunk)+6)
		body = binary.BigEndian.AppendUint32(body, uint32(len(chunk)+2))
		body = append(body, ctxID, header)
		body = append(body, chunk...)
		fragments = append(fragments, body)

		if last {
			break
		}
	}
	return fragments
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}
