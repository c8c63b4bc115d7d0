package communication

import (
	"testing"

	"github.com/biotracer/agent/internal/types"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func execEvent(pid, tgid uint32) []byte {
	data := make([]byte, procEventExecLen)
	nlenc.PutUint32(data[0:4], procEventExec)
	nlenc.PutUint32(data[4:8], 3)
	nlenc.PutUint64(data[8:16], 123456789)
	nlenc.PutUint32(data[16:20], pid)
	nlenc.PutUint32(data[20:24], tgid)
	return data
}

func forkEvent() []byte {
	data := make([]byte, procEventHeaderLen+16)
	nlenc.PutUint32(data[0:4], 0x00000001)
	return data
}

func procMessage(event []byte) netlink.Message {
	message := &ConnectorMessage{Idx: connectorIdxProc, Val: connectorValProc, Data: event}
	return netlink.Message{Data: message.Encode()}
}

func TestEncodeMulticastOp(t *testing.T) {
	encoded := EncodeMulticastOp(multicastListen)
	require.Len(t, encoded, connectorHeaderLen+4)

	decoded, err := DecodeConnectorMessage(encoded)
	require.NoError(t, err)
	assert.EqualValues(t, connectorIdxProc, decoded.Idx)
	assert.EqualValues(t, connectorValProc, decoded.Val)
	assert.Equal(t, multicastListen, nlenc.Uint32(decoded.Data))
}

func TestDecodeConnectorMessageRejectsTruncated(t *testing.T) {
	_, err := DecodeConnectorMessage(make([]byte, 10))
	assert.Error(t, err)

	encoded := (&ConnectorMessage{Data: make([]byte, 8)}).Encode()
	_, err = DecodeConnectorMessage(encoded[:connectorHeaderLen+4])
	assert.Error(t, err)
}

func TestDecodePayloadExec(t *testing.T) {
	payload, err := DecodePayloadExec(execEvent(42, 42))
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, &PayloadExec{Timestamp: 123456789, Pid: 42, Tgid: 42}, payload)

	payload, err = DecodePayloadExec(forkEvent())
	require.NoError(t, err)
	assert.Nil(t, payload)

	_, err = DecodePayloadExec(execEvent(42, 42)[:procEventHeaderLen+2])
	assert.Error(t, err)

	_, err = DecodePayloadExec([]byte{1, 2})
	assert.Error(t, err)
}

func TestHandleMessagesPublishesDistinctExecs(t *testing.T) {
	names := map[types.Pid]string{100: "fastqc", 101: "samtools"}
	communicator, err := newCommunicator(zap.NewNop(), nil, func(pid types.Pid) (string, error) {
		name, found := names[pid]
		if !found {
			return "", errors.New("no such process")
		}
		return name, nil
	})
	require.NoError(t, err)

	communicator.handleMessages([]netlink.Message{
		procMessage(execEvent(100, 100)),
		procMessage(execEvent(100, 100)),
		procMessage(forkEvent()),
		procMessage(execEvent(102, 101)),
		procMessage(execEvent(101, 101)),
		procMessage(execEvent(999, 999)),
		{Data: []byte{1, 2, 3}},
		{},
	})

	names[100] = "java"
	communicator.handleMessages([]netlink.Message{procMessage(execEvent(100, 100))})

	received := make([]Exec, 0)
	for len(communicator.ExecsChan()) > 0 {
		received = append(received, <-communicator.ExecsChan())
	}

	assert.Equal(t, []Exec{
		{Pid: 100, Name: "fastqc"},
		{Pid: 101, Name: "samtools"},
		{Pid: 100, Name: "java"},
	}, received)

	require.NoError(t, communicator.Close())
}
