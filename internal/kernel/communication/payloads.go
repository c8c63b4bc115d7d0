package communication

import (
	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
)

// Connector and process-events constants from linux/connector.h and linux/cn_proc.h.
const (
	connectorIdxProc = 1
	connectorValProc = 1

	connectorHeaderLen = 20

	multicastListen uint32 = 1
	multicastIgnore uint32 = 2

	procEventExec uint32 = 0x00000002

	procEventHeaderLen = 16
	procEventExecLen   = procEventHeaderLen + 8
)

// ConnectorMessage is a cn_msg: a callback id, sequencing fields and a payload.
type ConnectorMessage struct {
	Idx   uint32
	Val   uint32
	Seq   uint32
	Ack   uint32
	Flags uint16
	Data  []byte
}

func (cm *ConnectorMessage) Encode() []byte {
	buffer := make([]byte, connectorHeaderLen+len(cm.Data))
	nlenc.PutUint32(buffer[0:4], cm.Idx)
	nlenc.PutUint32(buffer[4:8], cm.Val)
	nlenc.PutUint32(buffer[8:12], cm.Seq)
	nlenc.PutUint32(buffer[12:16], cm.Ack)
	nlenc.PutUint16(buffer[16:18], uint16(len(cm.Data)))
	nlenc.PutUint16(buffer[18:20], cm.Flags)
	copy(buffer[connectorHeaderLen:], cm.Data)
	return buffer
}

func DecodeConnectorMessage(data []byte) (*ConnectorMessage, error) {
	if len(data) < connectorHeaderLen {
		return nil, errors.Errorf("connector message too short (%d bytes)", len(data))
	}

	length := int(nlenc.Uint16(data[16:18]))
	if connectorHeaderLen+length > len(data) {
		return nil, errors.Errorf("connector payload length %d exceeds message (%d bytes)", length, len(data))
	}

	return &ConnectorMessage{
		Idx:   nlenc.Uint32(data[0:4]),
		Val:   nlenc.Uint32(data[4:8]),
		Seq:   nlenc.Uint32(data[8:12]),
		Ack:   nlenc.Uint32(data[12:16]),
		Flags: nlenc.Uint16(data[18:20]),
		Data:  data[connectorHeaderLen : connectorHeaderLen+length],
	}, nil
}

// EncodeMulticastOp builds the request that subscribes to, or unsubscribes from, process events.
func EncodeMulticastOp(op uint32) []byte {
	message := &ConnectorMessage{
		Idx:  connectorIdxProc,
		Val:  connectorValProc,
		Data: nlenc.Uint32Bytes(op),
	}
	return message.Encode()
}

// PayloadExec is the data of an exec process event.
type PayloadExec struct {
	Timestamp uint64
	Pid       uint32
	Tgid      uint32
}

// DecodePayloadExec decodes a proc_event. Events other than exec yield a nil payload.
func DecodePayloadExec(data []byte) (*PayloadExec, error) {
	if len(data) < procEventHeaderLen {
		return nil, errors.Errorf("process event too short (%d bytes)", len(data))
	}

	if what := nlenc.Uint32(data[0:4]); what != procEventExec {
		return nil, nil
	}

	if len(data) < procEventExecLen {
		return nil, errors.Errorf("exec event too short (%d bytes)", len(data))
	}

	return &PayloadExec{
		Timestamp: nlenc.Uint64(data[8:16]),
		Pid:       nlenc.Uint32(data[16:20]),
		Tgid:      nlenc.Uint32(data[20:24]),
	}, nil
}
