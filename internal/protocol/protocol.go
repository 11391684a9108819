// Package protocol implements the framed packet protocol spoken between the
// bourse server and its clients. Every message is a fixed 16-byte header
// followed by zero or more payload bytes; all integers are big-endian.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// PacketType identifies a message on the wire.
type PacketType uint8

// Packet types.
const (
	NoPkt       PacketType = 0x00 // reserved, never sent
	LoginPkt    PacketType = 0x01 // request: user name bytes
	StatusPkt   PacketType = 0x02 // request: no payload
	DepositPkt  PacketType = 0x03 // request: FundsInfo
	WithdrawPkt PacketType = 0x04 // request: FundsInfo
	EscrowPkt   PacketType = 0x05 // request: EscrowInfo
	ReleasePkt  PacketType = 0x06 // request: EscrowInfo
	BuyPkt      PacketType = 0x07 // request: OrderInfo
	SellPkt     PacketType = 0x08 // request: OrderInfo
	CancelPkt   PacketType = 0x09 // request: CancelInfo
	AckPkt      PacketType = 0x0A // response: empty or StatusInfo
	NackPkt     PacketType = 0x0B // response: empty
	BoughtPkt   PacketType = 0x0C // notification: NotifyInfo
	SoldPkt     PacketType = 0x0D // notification: NotifyInfo
	PostedPkt   PacketType = 0x0E // notification: NotifyInfo
	CanceledPkt PacketType = 0x0F // notification: NotifyInfo
	TradedPkt   PacketType = 0x10 // notification: NotifyInfo
)

// String returns the packet type name used in log output.
func (t PacketType) String() string {
	switch t {
	case LoginPkt:
		return "LOGIN"
	case StatusPkt:
		return "STATUS"
	case DepositPkt:
		return "DEPOSIT"
	case WithdrawPkt:
		return "WITHDRAW"
	case EscrowPkt:
		return "ESCROW"
	case ReleasePkt:
		return "RELEASE"
	case BuyPkt:
		return "BUY"
	case SellPkt:
		return "SELL"
	case CancelPkt:
		return "CANCEL"
	case AckPkt:
		return "ACK"
	case NackPkt:
		return "NACK"
	case BoughtPkt:
		return "BOUGHT"
	case SoldPkt:
		return "SOLD"
	case PostedPkt:
		return "POSTED"
	case CanceledPkt:
		return "CANCELED"
	case TradedPkt:
		return "TRADED"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// Wire sizes.
const (
	HeaderSize     = 16
	StatusInfoSize = 28
	NotifyInfoSize = 16
	FundsInfoSize  = 4
	EscrowInfoSize = 4
	OrderInfoSize  = 8
	CancelInfoSize = 4
)

// ErrTruncated reports a packet whose header or payload ended prematurely.
var ErrTruncated = errors.New("truncated packet")

// ErrBadPayload reports a payload whose size does not match its packet type.
var ErrBadPayload = errors.New("bad payload size")

// Header is the fixed preamble of every packet. Bytes 12..16 on the wire are
// reserved, sent as zero and ignored on receive.
type Header struct {
	Type          PacketType
	Reserved      uint8
	PayloadSize   uint16
	TimestampSec  uint32
	TimestampNsec uint32
}

// NewHeader builds a header of the given type and payload size, stamped with
// the current wall-clock time.
func NewHeader(t PacketType, payloadSize int) Header {
	now := time.Now()
	return Header{
		Type:          t,
		PayloadSize:   uint16(payloadSize),
		TimestampSec:  uint32(now.Unix()),
		TimestampNsec: uint32(now.Nanosecond()),
	}
}

// Timestamp returns the header timestamp as seconds since the epoch.
func (h Header) Timestamp() float64 {
	return float64(h.TimestampSec) + float64(h.TimestampNsec)/1e9
}

func (h Header) encode(buf *[HeaderSize]byte) {
	buf[0] = uint8(h.Type)
	buf[1] = h.Reserved
	binary.BigEndian.PutUint16(buf[2:4], h.PayloadSize)
	binary.BigEndian.PutUint32(buf[4:8], h.TimestampSec)
	binary.BigEndian.PutUint32(buf[8:12], h.TimestampNsec)
	// bytes 12..16 stay zero
}

func decodeHeader(buf *[HeaderSize]byte) Header {
	return Header{
		Type:          PacketType(buf[0]),
		Reserved:      buf[1],
		PayloadSize:   binary.BigEndian.Uint16(buf[2:4]),
		TimestampSec:  binary.BigEndian.Uint32(buf[4:8]),
		TimestampNsec: binary.BigEndian.Uint32(buf[8:12]),
	}
}

// Send writes a packet: the header, then exactly PayloadSize payload bytes.
// The payload length must match the header's PayloadSize.
func Send(w io.Writer, hdr Header, payload []byte) error {
	if int(hdr.PayloadSize) != len(payload) {
		return fmt.Errorf("%w: header says %d, payload is %d bytes",
			ErrBadPayload, hdr.PayloadSize, len(payload))
	}

	var buf [HeaderSize]byte
	hdr.encode(&buf)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

// Recv reads one packet, blocking until it is complete. It returns io.EOF if
// the stream closes cleanly before any header byte arrives, and ErrTruncated
// if a header or payload starts but ends prematurely.
func Recv(r io.Reader) (Header, []byte, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF {
			return Header{}, nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return Header{}, nil, fmt.Errorf("%w: short header", ErrTruncated)
		}
		return Header{}, nil, fmt.Errorf("read header: %w", err)
	}

	hdr := decodeHeader(&buf)
	if hdr.PayloadSize == 0 {
		return hdr, nil, nil
	}

	payload := make([]byte, hdr.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, nil, fmt.Errorf("%w: short payload", ErrTruncated)
		}
		return Header{}, nil, fmt.Errorf("read payload: %w", err)
	}
	return hdr, payload, nil
}

// StatusInfo is the payload of an ACK carrying account and market state.
type StatusInfo struct {
	OrderID   uint32
	Balance   uint32
	Inventory uint32
	Bid       uint32
	Ask       uint32
	Last      uint32
	Quantity  uint32
}

// Encode serializes the status in big-endian field order.
func (s *StatusInfo) Encode() []byte {
	buf := make([]byte, StatusInfoSize)
	binary.BigEndian.PutUint32(buf[0:4], s.OrderID)
	binary.BigEndian.PutUint32(buf[4:8], s.Balance)
	binary.BigEndian.PutUint32(buf[8:12], s.Inventory)
	binary.BigEndian.PutUint32(buf[12:16], s.Bid)
	binary.BigEndian.PutUint32(buf[16:20], s.Ask)
	binary.BigEndian.PutUint32(buf[20:24], s.Last)
	binary.BigEndian.PutUint32(buf[24:28], s.Quantity)
	return buf
}

// Decode parses a status payload.
func (s *StatusInfo) Decode(buf []byte) error {
	if len(buf) != StatusInfoSize {
		return ErrBadPayload
	}
	s.OrderID = binary.BigEndian.Uint32(buf[0:4])
	s.Balance = binary.BigEndian.Uint32(buf[4:8])
	s.Inventory = binary.BigEndian.Uint32(buf[8:12])
	s.Bid = binary.BigEndian.Uint32(buf[12:16])
	s.Ask = binary.BigEndian.Uint32(buf[16:20])
	s.Last = binary.BigEndian.Uint32(buf[20:24])
	s.Quantity = binary.BigEndian.Uint32(buf[24:28])
	return nil
}

// NotifyInfo is the payload of BOUGHT, SOLD, POSTED, CANCELED and TRADED
// notifications. For POSTED/CANCELED of a buy order the Buyer field holds the
// order id and Seller is zero; vice versa for a sell order.
type NotifyInfo struct {
	Buyer    uint32
	Seller   uint32
	Quantity uint32
	Price    uint32
}

// Encode serializes the notification in big-endian field order.
func (n *NotifyInfo) Encode() []byte {
	buf := make([]byte, NotifyInfoSize)
	binary.BigEndian.PutUint32(buf[0:4], n.Buyer)
	binary.BigEndian.PutUint32(buf[4:8], n.Seller)
	binary.BigEndian.PutUint32(buf[8:12], n.Quantity)
	binary.BigEndian.PutUint32(buf[12:16], n.Price)
	return buf
}

// Decode parses a notification payload.
func (n *NotifyInfo) Decode(buf []byte) error {
	if len(buf) != NotifyInfoSize {
		return ErrBadPayload
	}
	n.Buyer = binary.BigEndian.Uint32(buf[0:4])
	n.Seller = binary.BigEndian.Uint32(buf[4:8])
	n.Quantity = binary.BigEndian.Uint32(buf[8:12])
	n.Price = binary.BigEndian.Uint32(buf[12:16])
	return nil
}

// FundsInfo is the payload of DEPOSIT and WITHDRAW requests.
type FundsInfo struct {
	Amount uint32
}

func (f *FundsInfo) Encode() []byte {
	buf := make([]byte, FundsInfoSize)
	binary.BigEndian.PutUint32(buf, f.Amount)
	return buf
}

func (f *FundsInfo) Decode(buf []byte) error {
	if len(buf) != FundsInfoSize {
		return ErrBadPayload
	}
	f.Amount = binary.BigEndian.Uint32(buf)
	return nil
}

// EscrowInfo is the payload of ESCROW and RELEASE requests.
type EscrowInfo struct {
	Quantity uint32
}

func (e *EscrowInfo) Encode() []byte {
	buf := make([]byte, EscrowInfoSize)
	binary.BigEndian.PutUint32(buf, e.Quantity)
	return buf
}

func (e *EscrowInfo) Decode(buf []byte) error {
	if len(buf) != EscrowInfoSize {
		return ErrBadPayload
	}
	e.Quantity = binary.BigEndian.Uint32(buf)
	return nil
}

// OrderInfo is the payload of BUY and SELL requests.
type OrderInfo struct {
	Quantity uint32
	Price    uint32
}

func (o *OrderInfo) Encode() []byte {
	buf := make([]byte, OrderInfoSize)
	binary.BigEndian.PutUint32(buf[0:4], o.Quantity)
	binary.BigEndian.PutUint32(buf[4:8], o.Price)
	return buf
}

func (o *OrderInfo) Decode(buf []byte) error {
	if len(buf) != OrderInfoSize {
		return ErrBadPayload
	}
	o.Quantity = binary.BigEndian.Uint32(buf[0:4])
	o.Price = binary.BigEndian.Uint32(buf[4:8])
	return nil
}

// CancelInfo is the payload of a CANCEL request.
type CancelInfo struct {
	Order uint32
}

func (c *CancelInfo) Encode() []byte {
	buf := make([]byte, CancelInfoSize)
	binary.BigEndian.PutUint32(buf, c.Order)
	return buf
}

func (c *CancelInfo) Decode(buf []byte) error {
	if len(buf) != CancelInfoSize {
		return ErrBadPayload
	}
	c.Order = binary.BigEndian.Uint32(buf)
	return nil
}
