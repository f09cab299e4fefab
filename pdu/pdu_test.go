package pdu

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomlink/types"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	data := []byte{0x01, 0x02, 0x03, 0x04}
	require.NoError(t, WritePDU(&buf, types.TypePDataTF, data))

	p, err := ReadPDU(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(types.TypePDataTF), p.Type)
	assert.Equal(t, uint32(4), p.Length)
	assert.Equal(t, data, p.Data)
}

func TestReadPDURejectsOversized(t *testing.T) {
	header := make([]byte, 6)
	header[0] = types.TypePDataTF
	binary.BigEndian.PutUint32(header[2:6], 64<<20)

	_, err := ReadPDU(bytes.NewReader(header))
	require.Error(t, err)
}

func TestBuildAssociateRQLayout(t *testing.T) {
	contexts := []ProposedContext{
		{ID: 1, AbstractSyntax: types.VerificationSOPClass},
		{ID: 3, AbstractSyntax: types.StudyRootQueryRetrieveInformationModelFind},
	}
	syntaxes := []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian}
	body := BuildAssociateRQ("SCU_AE", "SCP_AE", 16384, contexts, syntaxes)

	require.GreaterOrEqual(t, len(body), 68)
	assert.Equal(t, []byte{0x00, 0x01}, body[0:2], "protocol version")
	assert.Equal(t, "SCP_AE          ", string(body[4:20]), "called AE title padded to 16")
	assert.Equal(t, "SCU_AE          ", string(body[20:36]), "calling AE title padded to 16")

	// Application context item follows the fixed fields
	assert.Equal(t, byte(0x10), body[68])
	appCtxLen := binary.BigEndian.Uint16(body[70:72])
	assert.Equal(t, types.ApplicationContextUID, string(body[72:72+int(appCtxLen)]))

	// Both presentation contexts and the user information item are present
	assert.Equal(t, 2, bytes.Count(body, []byte{0x20, 0x00}), "presentation context items")
	assert.Contains(t, string(body), types.VerificationSOPClass)
	assert.Contains(t, string(body), types.StudyRootQueryRetrieveInformationModelFind)
	assert.Contains(t, string(body), types.ExplicitVRLittleEndian)
}

func buildACBody(ctxID byte, result byte, transferSyntax string, maxPDU uint32) []byte {
	buf := make([]byte, 68)
	buf[1] = 0x01

	item := []byte{ctxID, 0x00, result, 0x00}
	if transferSyntax != "" {
		item = append(item, 0x40, 0x00)
		item = binary.BigEndian.AppendUint16(item, uint16(len(transferSyntax)))
		item = append(item, []byte(transferSyntax)...)
	}
	buf = append(buf, 0x21, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(item)))
	buf = append(buf, item...)

	ui := []byte{0x51, 0x00, 0x00, 0x04}
	ui = binary.BigEndian.AppendUint32(ui, maxPDU)
	buf = append(buf, 0x50, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(ui)))
	buf = append(buf, ui...)
	return buf
}

func TestParseAssociateAC(t *testing.T) {
	body := buildACBody(1, 0x00, types.ExplicitVRLittleEndian, 32768)

	info, err := ParseAssociateAC(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(32768), info.MaxPDULength)

	res, ok := info.Contexts[1]
	require.True(t, ok)
	assert.True(t, res.Accepted())
	assert.Equal(t, types.ExplicitVRLittleEndian, res.TransferSyntax)
}

func TestParseAssociateACRejectedContext(t *testing.T) {
	body := buildACBody(1, 0x03, "", 16384)

	info, err := ParseAssociateAC(body)
	require.NoError(t, err)
	res, ok := info.Contexts[1]
	require.True(t, ok)
	assert.False(t, res.Accepted())
	assert.Empty(t, res.TransferSyntax)
}

func TestParseAssociateACTooShort(t *testing.T) {
	_, err := ParseAssociateAC(make([]byte, 10))
	require.Error(t, err)
}

func TestParseAssociateRJ(t *testing.T) {
	result, source, reason, err := ParseAssociateRJ([]byte{0x00, 0x02, 0x01, 0x07})
	require.NoError(t, err)
	assert.Equal(t, types.RejectResultTransient, result)
	assert.Equal(t, types.RejectSourceServiceUser, source)
	assert.Equal(t, types.RejectReasonCalledAETitleNotRecognized, reason)
}

func TestAbortRoundTrip(t *testing.T) {
	body := BuildAbort(types.AbortSourceServiceUser, types.AbortReasonNotSpecified)
	source, reason, err := ParseAbort(body)
	require.NoError(t, err)
	assert.Equal(t, types.AbortSourceServiceUser, source)
	assert.Equal(t, types.AbortReasonNotSpecified, reason)
}

func TestPDataFragmentationRoundTrip(t *testing.T) {
	command := bytes.Repeat([]byte{0xAA}, 100)
	dataset := bytes.Repeat([]byte{0xBB}, 5000)

	fragments := BuildPDataFragments(5, command, dataset, 2048)
	require.Greater(t, len(fragments), 2, "dataset must be split across fragments")

	var gotCommand, gotDataset []byte
	sawCommandLast, sawDatasetLast := false, false
	for _, frag := range fragments {
		items, err := ParsePDVItems(frag)
		require.NoError(t, err)
		for _, item := range items {
			assert.Equal(t, byte(5), item.ContextID)
			// No fragment body may exceed the negotiated maximum
			assert.LessOrEqual(t, len(frag), 2048)
			if item.Command {
				assert.False(t, sawCommandLast, "command fragments after last")
				gotCommand = append(gotCommand, item.Data...)
				sawCommandLast = item.Last
			} else {
				assert.True(t, sawCommandLast, "dataset before command completed")
				gotDataset = append(gotDataset, item.Data...)
				sawDatasetLast = item.Last
			}
		}
	}

	assert.True(t, sawCommandLast)
	assert.True(t, sawDatasetLast)
	assert.Equal(t, command, gotCommand)
	assert.Equal(t, dataset, gotDataset)
}

func TestParsePDVItemsTruncated(t *testing.T) {
	_, err := ParsePDVItems([]byte{0x00, 0x00, 0x00, 0xFF, 0x01, 0x03})
	require.Error(t, err)
}
