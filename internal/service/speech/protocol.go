package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎 openspeech 二进制帧：
// 4 字节头 | 可选 sequence | 可选 event 元数据 | (错误码) | payload 长度 | payload

const protocolVersion = 0b0001

// MessageType 帧类型（头部第二字节高 4 位）。
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 帧标志（头部第二字节低 4 位）。
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

// EventType 服务端事件编号。
type EventType int32

const (
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// Header is the fixed four byte frame header.
type Header struct {
	Version       uint8
	Size          uint8 // in 4-byte words
	Type          MessageType
	Flags         MessageFlags
	Serialization SerializationMethod
	Compression   CompressionMethod
}

// Frame is one decoded protocol message.
type Frame struct {
	Header    Header
	Sequence  int32
	Event     EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func newFrame(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod, payload []byte) *Frame {
	return &Frame{
		Header: Header{
			Version:       protocolVersion,
			Size:          1,
			Type:          msgType,
			Flags:         flags,
			Serialization: serialization,
			Compression:   compression,
		},
		Payload: payload,
	}
}

// NewFullClientRequest wraps a JSON request body.
func NewFullClientRequest(payload []byte, compression CompressionMethod) *Frame {
	return newFrame(FullClientRequest, NoSequenceNumber, JSONSerialization, compression, payload)
}

// NewAudioFrame wraps one audio chunk. The last chunk carries a negated
// sequence number, or the last-packet flag when sequence is zero.
func NewAudioFrame(chunk []byte, sequence int32, last bool, compression CompressionMethod) *Frame {
	flags := NoSequenceNumber
	switch {
	case last && sequence != 0:
		flags = NegativeSequenceNumber
		sequence = -sequence
	case last:
		flags = LastPacketNoSequence
	case sequence > 0:
		flags = PositiveSequenceNumber
	}

	frame := newFrame(AudioOnlyRequest, flags, NoSerialization, compression, chunk)
	frame.Sequence = sequence
	return frame
}

func (f *Frame) hasSequence() bool {
	switch f.Header.Flags & sequenceMask {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		return true
	}
	return false
}

func (f *Frame) hasEvent() bool {
	return f.Header.Flags&WithEvent == WithEvent
}

// IsLast 判断是否为最后一包。
func (f *Frame) IsLast() bool {
	switch f.Header.Flags & sequenceMask {
	case LastPacketNoSequence, NegativeSequenceNumber:
		return true
	}
	return false
}

// Encode serializes the frame.
func (f *Frame) Encode() []byte {
	h := f.Header
	buf := make([]byte, 0, 16+len(f.Payload))
	buf = append(buf,
		h.Version<<4|h.Size,
		uint8(h.Type)<<4|uint8(h.Flags),
		uint8(h.Serialization)<<4|uint8(h.Compression),
		0,
	)

	if f.hasSequence() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Sequence))
	}
	if f.hasEvent() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Event))
		if !eventSkipsSessionID(f.Event) {
			buf = appendSized(buf, f.SessionID)
		}
		if eventHasConnectID(f.Event) {
			buf = appendSized(buf, f.ConnectID)
		}
	}
	if h.Type == ErrorMessage {
		buf = binary.BigEndian.AppendUint32(buf, f.ErrorCode)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	return append(buf, f.Payload...)
}

func appendSized(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// DecodeFrame parses one frame from data.
func DecodeFrame(data []byte) (*Frame, error) {
	r := bytes.NewReader(data)

	var raw [4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	h := Header{
		Version:       raw[0] >> 4,
		Size:          raw[0] & 0x0F,
		Type:          MessageType(raw[1] >> 4),
		Flags:         MessageFlags(raw[1] & 0x0F),
		Serialization: SerializationMethod(raw[2] >> 4),
		Compression:   CompressionMethod(raw[2] & 0x0F),
	}
	if h.Version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	if extra := int(h.Size)*4 - 4; extra > 0 {
		if _, err := r.Seek(int64(extra), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("failed to skip extended header: %w", err)
		}
	}

	f := &Frame{Header: h}

	if f.hasSequence() {
		seq, err := readUint32(r, "sequence")
		if err != nil {
			return nil, err
		}
		f.Sequence = int32(seq)
	}

	if f.hasEvent() {
		event, err := readUint32(r, "event type")
		if err != nil {
			return nil, err
		}
		f.Event = EventType(int32(event))

		if !eventSkipsSessionID(f.Event) {
			if f.SessionID, err = readSized(r, "session id"); err != nil {
				return nil, err
			}
		}
		if eventHasConnectID(f.Event) {
			if f.ConnectID, err = readSized(r, "connect id"); err != nil {
				return nil, err
			}
		}
	}

	if h.Type == ErrorMessage {
		code, err := readUint32(r, "error code")
		if err != nil {
			return nil, err
		}
		f.ErrorCode = code
	}

	size, err := readUint32(r, "payload size")
	if err != nil {
		return nil, err
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("failed to read payload (expected %d bytes): %w", size, err)
		}
	}

	return f, nil
}

func readUint32(r io.Reader, what string) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", what, err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader, what string) (string, error) {
	size, err := readUint32(r, what+" size")
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", what, err)
	}
	return string(b), nil
}

func eventSkipsSessionID(event EventType) bool {
	switch event {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

func eventHasConnectID(event EventType) bool {
	switch event {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

// Compress 按帧头声明的方式压缩 payload。
func Compress(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}

// Decompress 是 Compress 的逆操作。
func Decompress(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip read failed: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}

// payload 返回解压后的帧内容。
func (f *Frame) payload() ([]byte, error) {
	return Decompress(f.Payload, f.Header.Compression)
}
