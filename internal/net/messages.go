package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	. "matchbook/internal/common"

	"github.com/google/uuid"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrFrameTooLarge      = errors.New("frame too large")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidTimeInForce = errors.New("invalid time in force")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrderRequest
	CancelOrderRequest
	ModifyOrderRequest
	LevelsRequest
)

type ReportMessageType uint16

const (
	_ ReportMessageType = iota
	ExecutionReport
	RejectReport
	LevelsReport
)

// RejectReason tells a client why a request did not take effect.
type RejectReason uint8

const (
	ReasonMalformed RejectReason = iota + 1
	ReasonDuplicate
	ReasonNotAdmissible
	ReasonUnknownOrder
	ReasonInternal
	ReasonKilled
)

func (r RejectReason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonDuplicate:
		return "duplicate order id"
	case ReasonNotAdmissible:
		return "fill and kill could not cross"
	case ReasonUnknownOrder:
		return "unknown order id"
	case ReasonInternal:
		return "internal error"
	case ReasonKilled:
		return "unfilled remainder killed"
	}
	return "unknown"
}

type Message interface {
	GetType() MessageType
}

// Message format constants
const (
	FrameLenSize                = 2
	BaseMessageHeaderLen        = 2
	NewOrderMessageHeaderLen    = 8 + 1 + 1 + 4 + 4
	CancelOrderMessageHeaderLen = 8
	MaxFrameLen                 = 4*1024 - FrameLenSize
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// ReadFrame reads one length prefixed frame and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [FrameLenSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n) > MaxFrameLen {
		return nil, fmt.Errorf("%d bytes: %w", n, ErrFrameTooLarge)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// frame prefixes payload with its length.
func frame(payload []byte) []byte {
	buf := make([]byte, FrameLenSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(payload)))
	copy(buf[2:], payload)
	return buf
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, ErrMessageTooShort
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat, LevelsRequest:
		return BaseMessage{TypeOf: typeOf}, nil
	case NewOrderRequest:
		return parseNewOrder(msg)
	case CancelOrderRequest:
		return parseCancelOrder(msg)
	case ModifyOrderRequest:
		m, err := parseNewOrder(msg)
		if err != nil {
			return BaseMessage{}, err
		}
		return ModifyOrderMessage{
			BaseMessage: BaseMessage{TypeOf: ModifyOrderRequest},
			ID:          m.ID,
			Side:        m.Side,
			Price:       m.Price,
			Quantity:    m.Quantity,
		}, nil
	default:
		return BaseMessage{}, fmt.Errorf("type %d: %w", typeOf, ErrInvalidMessageType)
	}
}

type NewOrderMessage struct {
	BaseMessage
	ID          OrderID     // 8 bytes
	Side        Side        // 1 byte
	TimeInForce TimeInForce // 1 byte
	Price       Price       // 4 bytes
	Quantity    Quantity    // 4 bytes
}

func (o NewOrderMessage) Order() *Order {
	return NewOrder(o.TimeInForce, o.ID, o.Side, o.Price, o.Quantity)
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}

	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrderRequest}}
	m.ID = OrderID(binary.BigEndian.Uint64(msg[0:8]))
	m.Side = Side(msg[8])
	m.TimeInForce = TimeInForce(msg[9])
	m.Price = Price(int32(binary.BigEndian.Uint32(msg[10:14])))
	m.Quantity = Quantity(binary.BigEndian.Uint32(msg[14:18]))

	if m.Side != Buy && m.Side != Sell {
		return NewOrderMessage{}, ErrInvalidSide
	}
	if m.TimeInForce != GoodTillCancel && m.TimeInForce != FillAndKill {
		return NewOrderMessage{}, ErrInvalidTimeInForce
	}
	if m.Quantity == 0 {
		return NewOrderMessage{}, ErrInvalidQuantity
	}
	return m, nil
}

// EncodeNewOrder builds a framed NewOrderRequest message.
func EncodeNewOrder(order *Order) []byte {
	return frame(encodeOrderBody(NewOrderRequest, order.ID(), order.Side(), order.TimeInForce(), order.Price(), order.InitialQuantity()))
}

func encodeOrderBody(typeOf MessageType, id OrderID, side Side, tif TimeInForce, price Price, qty Quantity) []byte {
	buf := make([]byte, BaseMessageHeaderLen+NewOrderMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(typeOf))
	binary.BigEndian.PutUint64(buf[2:10], uint64(id))
	buf[10] = byte(side)
	buf[11] = byte(tif)
	binary.BigEndian.PutUint32(buf[12:16], uint32(price))
	binary.BigEndian.PutUint32(buf[16:20], uint32(qty))
	return buf
}

type CancelOrderMessage struct {
	BaseMessage
	ID OrderID // 8 bytes
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	return CancelOrderMessage{
		BaseMessage: BaseMessage{TypeOf: CancelOrderRequest},
		ID:          OrderID(binary.BigEndian.Uint64(msg[0:8])),
	}, nil
}

// EncodeCancelOrder builds a framed CancelOrderRequest message.
func EncodeCancelOrder(id OrderID) []byte {
	buf := make([]byte, BaseMessageHeaderLen+CancelOrderMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrderRequest))
	binary.BigEndian.PutUint64(buf[2:10], uint64(id))
	return frame(buf)
}

// ModifyOrderMessage shares the NewOrderMessage layout. The time in force byte is
// validated but the replacement keeps the resting order's.
type ModifyOrderMessage struct {
	BaseMessage
	ID       OrderID
	Side     Side
	Price    Price
	Quantity Quantity
}

func (m ModifyOrderMessage) OrderModify() OrderModify {
	return OrderModify{ID: m.ID, Side: m.Side, Price: m.Price, Quantity: m.Quantity}
}

// EncodeModifyOrder builds a framed ModifyOrderRequest message.
func EncodeModifyOrder(modify OrderModify) []byte {
	return frame(encodeOrderBody(ModifyOrderRequest, modify.ID, modify.Side, GoodTillCancel, modify.Price, modify.Quantity))
}

// EncodeRequest builds a framed message that has no body.
func EncodeRequest(typeOf MessageType) []byte {
	buf := make([]byte, BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(typeOf))
	return frame(buf)
}

// --- Reports ----------------------------------------------------------------

type Report interface {
	Serialize() []byte
}

// Execution is one party's view of a trade.
type Execution struct {
	ExecID       uuid.UUID // 16 bytes
	OrderID      OrderID   // 8 bytes
	CounterParty OrderID   // 8 bytes
	Side         Side      // 1 byte
	Price        Price     // 4 bytes
	Quantity     Quantity  // 4 bytes
}

const executionLen = 16 + 8 + 8 + 1 + 4 + 4

func (r Execution) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+executionLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(ExecutionReport))
	copy(buf[2:18], r.ExecID[:])
	binary.BigEndian.PutUint64(buf[18:26], uint64(r.OrderID))
	binary.BigEndian.PutUint64(buf[26:34], uint64(r.CounterParty))
	buf[34] = byte(r.Side)
	binary.BigEndian.PutUint32(buf[35:39], uint32(r.Price))
	binary.BigEndian.PutUint32(buf[39:43], uint32(r.Quantity))
	return frame(buf)
}

// generateExecutions splits a trade into the report addressed to each party.
// Both share one execution id.
func generateExecutions(trade Trade) (bid, ask Execution) {
	execID := uuid.New()
	bid = Execution{
		ExecID:       execID,
		OrderID:      trade.Bid.OrderID,
		CounterParty: trade.Ask.OrderID,
		Side:         Buy,
		Price:        trade.Bid.Price,
		Quantity:     trade.Bid.Quantity,
	}
	ask = Execution{
		ExecID:       execID,
		OrderID:      trade.Ask.OrderID,
		CounterParty: trade.Bid.OrderID,
		Side:         Sell,
		Price:        trade.Ask.Price,
		Quantity:     trade.Ask.Quantity,
	}
	return bid, ask
}

type Reject struct {
	OrderID OrderID      // 8 bytes
	Reason  RejectReason // 1 byte
	Err     string       // 2 byte length + n bytes
}

const rejectFixedLen = 8 + 1 + 2

func (r Reject) Serialize() []byte {
	errStr := r.Err
	if len(errStr) > MaxFrameLen-BaseMessageHeaderLen-rejectFixedLen {
		errStr = errStr[:MaxFrameLen-BaseMessageHeaderLen-rejectFixedLen]
	}
	buf := make([]byte, BaseMessageHeaderLen+rejectFixedLen+len(errStr))
	binary.BigEndian.PutUint16(buf[0:2], uint16(RejectReport))
	binary.BigEndian.PutUint64(buf[2:10], uint64(r.OrderID))
	buf[10] = byte(r.Reason)
	binary.BigEndian.PutUint16(buf[11:13], uint16(len(errStr)))
	copy(buf[13:], errStr)
	return frame(buf)
}

// Levels is a ladder snapshot. A frame holds at most maxLevelsPerSide levels
// per side; TotalBids and TotalAsks count every level the book had, so a
// client can tell the report was cut short.
type Levels struct {
	BookLevels
	TotalBids int
	TotalAsks int
}

func NewLevels(levels BookLevels) Levels {
	return Levels{
		BookLevels: levels,
		TotalBids:  len(levels.Bids),
		TotalAsks:  len(levels.Asks),
	}
}

// Truncated reports whether levels were left out of the report.
func (r Levels) Truncated() bool {
	return r.TotalBids > len(r.Bids) || r.TotalAsks > len(r.Asks)
}

const (
	levelLen        = 4 + 8
	levelsHeaderLen = 2 + 2 + 4 + 4
)

// maxLevelsPerSide keeps a levels report within one frame.
const maxLevelsPerSide = (MaxFrameLen - BaseMessageHeaderLen - levelsHeaderLen) / levelLen / 2

func (r Levels) Serialize() []byte {
	bids := r.Bids[:min(len(r.Bids), maxLevelsPerSide)]
	asks := r.Asks[:min(len(r.Asks), maxLevelsPerSide)]

	buf := make([]byte, BaseMessageHeaderLen+levelsHeaderLen+levelLen*(len(bids)+len(asks)))
	binary.BigEndian.PutUint16(buf[0:2], uint16(LevelsReport))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(bids)))
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(asks)))
	binary.BigEndian.PutUint32(buf[6:10], uint32(max(r.TotalBids, len(r.Bids))))
	binary.BigEndian.PutUint32(buf[10:14], uint32(max(r.TotalAsks, len(r.Asks))))

	offset := BaseMessageHeaderLen + levelsHeaderLen
	for _, level := range append(append([]LevelInfo{}, bids...), asks...) {
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(level.Price))
		binary.BigEndian.PutUint64(buf[offset+4:offset+12], level.Quantity)
		offset += levelLen
	}
	return frame(buf)
}

// ParseReport decodes one report payload, as returned by ReadFrame.
func ParseReport(msg []byte) (Report, error) {
	if len(msg) < BaseMessageHeaderLen {
		return nil, ErrMessageTooShort
	}
	typeOf := ReportMessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]

	switch typeOf {
	case ExecutionReport:
		if len(msg) < executionLen {
			return nil, ErrMessageTooShort
		}
		var r Execution
		copy(r.ExecID[:], msg[0:16])
		r.OrderID = OrderID(binary.BigEndian.Uint64(msg[16:24]))
		r.CounterParty = OrderID(binary.BigEndian.Uint64(msg[24:32]))
		r.Side = Side(msg[32])
		r.Price = Price(int32(binary.BigEndian.Uint32(msg[33:37])))
		r.Quantity = Quantity(binary.BigEndian.Uint32(msg[37:41]))
		return r, nil

	case RejectReport:
		if len(msg) < rejectFixedLen {
			return nil, ErrMessageTooShort
		}
		errLen := int(binary.BigEndian.Uint16(msg[9:11]))
		if len(msg) < rejectFixedLen+errLen {
			return nil, ErrMessageTooShort
		}
		return Reject{
			OrderID: OrderID(binary.BigEndian.Uint64(msg[0:8])),
			Reason:  RejectReason(msg[8]),
			Err:     string(msg[11 : 11+errLen]),
		}, nil

	case LevelsReport:
		if len(msg) < levelsHeaderLen {
			return nil, ErrMessageTooShort
		}
		nBids := int(binary.BigEndian.Uint16(msg[0:2]))
		nAsks := int(binary.BigEndian.Uint16(msg[2:4]))
		if len(msg) < levelsHeaderLen+levelLen*(nBids+nAsks) {
			return nil, ErrMessageTooShort
		}
		levels := make([]LevelInfo, nBids+nAsks)
		offset := levelsHeaderLen
		for i := range levels {
			levels[i] = LevelInfo{
				Price:    Price(int32(binary.BigEndian.Uint32(msg[offset : offset+4]))),
				Quantity: binary.BigEndian.Uint64(msg[offset+4 : offset+12]),
			}
			offset += levelLen
		}
		return Levels{
			BookLevels: BookLevels{Bids: levels[:nBids], Asks: levels[nBids:]},
			TotalBids:  int(binary.BigEndian.Uint32(msg[4:8])),
			TotalAsks:  int(binary.BigEndian.Uint32(msg[8:12])),
		}, nil
	}
	return nil, fmt.Errorf("report type %d: %w", typeOf, ErrInvalidMessageType)
}
