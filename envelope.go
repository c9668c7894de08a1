// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"fmt"
	"sync/atomic"

	"github.com/luxfi/uidrpc/buffer"
	"github.com/luxfi/uidrpc/codec"
)

// Envelope flag bits.
const (
	FlagResponse int32 = 1 << 0
	FlagOneway   int32 = 1 << 1
)

// Response codes understood by the transport itself. Application codes
// start above these.
const (
	CodeSuccess                 int32 = 0
	CodeSystemError             int32 = 1
	CodeSystemBusy              int32 = 2
	CodeRequestCodeNotSupported int32 = 3
	CodeVersionRejected         int32 = 4
)

// frameHeaderSize is the int32 header length that every frame carries after
// its total length.
const frameHeaderSize = 4

var opaqueSeq atomic.Int32

// nextOpaque returns the next process-wide correlation id. Wraparound is
// tolerated; zero is skipped so that an unset opaque is never in flight.
func nextOpaque() int32 {
	for {
		if v := opaqueSeq.Add(1); v != 0 {
			return v
		}
	}
}

// Envelope is one RPC message. The frame on the wire is
//
//	int32 totalLength | int32 headerLength | header | body
//
// where totalLength counts everything after itself and the header holds
// code, version, opaque, flags, remark and the string header fields.
type Envelope struct {
	Code    int32
	Version int32
	Opaque  int32
	Flags   int32
	Remark  string
	Fields  map[string]string
	Body    []byte

	header any
}

// NewRequest creates a request whose typed header, if any, is reflected
// into Fields when the envelope is encoded.
func NewRequest(code int32, header any) *Envelope {
	return &Envelope{Code: code, header: header}
}

// NewResponse creates a response. The transport fills in the opaque of the
// request it answers.
func NewResponse(code int32, remark string) *Envelope {
	return &Envelope{Code: code, Remark: remark, Flags: FlagResponse}
}

func (e *Envelope) IsResponse() bool { return e.Flags&FlagResponse != 0 }
func (e *Envelope) IsOneway() bool   { return e.Flags&FlagOneway != 0 }

// SetHeader replaces the typed header reflected into Fields on encode.
func (e *Envelope) SetHeader(h any) { e.header = h }

// DecodeHeader fills dst, a pointer to a header struct, from Fields.
func (e *Envelope) DecodeHeader(dst any) error {
	return decodeHeaderFields(e.Fields, dst)
}

// Err returns a RemoteError for responses that do not carry CodeSuccess.
func (e *Envelope) Err() error {
	if e.Code == CodeSuccess {
		return nil
	}
	return &RemoteError{Code: e.Code, Remark: e.Remark}
}

func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{code=%d version=%d opaque=%d flags=%d remark=%q fields=%v body=%dB}",
		e.Code, e.Version, e.Opaque, e.Flags, e.Remark, e.Fields, len(e.Body))
}

func (e *Envelope) fields() (map[string]string, error) {
	if e.header == nil {
		return e.Fields, nil
	}
	hf, err := headerFields(e.header)
	if err != nil {
		return nil, err
	}
	if len(e.Fields) == 0 {
		return hf, nil
	}
	merged := make(map[string]string, len(e.Fields)+len(hf))
	for k, v := range e.Fields {
		merged[k] = v
	}
	for k, v := range hf {
		merged[k] = v
	}
	return merged, nil
}

// Encode returns the complete frame.
func (e *Envelope) Encode() ([]byte, error) {
	buf := buffer.New(64 + len(e.Remark) + len(e.Body))
	if err := e.encodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Envelope) encodeTo(buf *buffer.Buffer) error {
	fields, err := e.fields()
	if err != nil {
		return err
	}
	s := codec.NewStream(buf)
	s.MarkRecordLength() // total length
	s.MarkRecordLength() // header length
	s.PutInt32(e.Code)
	s.PutInt32(e.Version)
	s.PutInt32(e.Opaque)
	s.PutInt32(e.Flags)
	s.PutString(e.Remark)
	s.PutStringMap(fields)
	if err := s.PatchRecordLength(); err != nil {
		return err
	}
	buf.Put(e.Body)
	return s.PatchRecordLength()
}

// DecodeEnvelope parses a complete frame, including its total length.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrame, len(frame))
	}
	total, err := buffer.Wrap(frame).Int32()
	if err != nil {
		return nil, err
	}
	if int(total) != len(frame)-4 {
		return nil, fmt.Errorf("%w: total length %d, frame carries %d", ErrFrame, total, len(frame)-4)
	}
	return decodePayload(frame[4:])
}

// decodePayload parses everything after the total length.
func decodePayload(p []byte) (*Envelope, error) {
	buf := buffer.Wrap(p)
	headerLen, err := buf.Int32()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrame, err)
	}
	if headerLen < 0 || int(headerLen) > buf.Remaining() {
		return nil, fmt.Errorf("%w: header length %d, %d bytes remaining", ErrFrame, headerLen, buf.Remaining())
	}
	header, _ := buf.Next(int(headerLen))

	s := codec.NewStream(buffer.Wrap(header))
	e := &Envelope{}
	for _, dst := range []*int32{&e.Code, &e.Version, &e.Opaque, &e.Flags} {
		if *dst, err = s.Int32(); err != nil {
			return nil, fmt.Errorf("%w: header: %w", ErrFrame, err)
		}
	}
	if e.Remark, err = s.ReadString(); err != nil {
		return nil, fmt.Errorf("%w: remark: %w", ErrFrame, err)
	}
	if e.Fields, err = s.StringMap(); err != nil {
		return nil, fmt.Errorf("%w: header fields: %w", ErrFrame, err)
	}
	if body := p[frameHeaderSize+int(headerLen):]; len(body) > 0 {
		e.Body = body
	}
	return e, nil
}
