// Package protocol defines the realtime wire format: versioned command
// envelopes from clients and acks back.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"roundhouse/internal/game"
)

const Version = 1

const (
	TypePlaceBet  = "placeBet"
	TypeCancelBet = "cancelBet"
	TypeCashOut   = "cashOut"
	TypePing      = "ping"

	TypeAck  = "ack"
	TypePong = "pong"
)

const (
	CodeBadRequest         game.Code = "BAD_REQUEST"
	CodeUnsupportedVersion game.Code = "UNSUPPORTED_VERSION"
)

var (
	ErrBadRequest         = &game.Error{Code: CodeBadRequest, Message: "Malformed request"}
	ErrUnsupportedVersion = &game.Error{Code: CodeUnsupportedVersion, Message: "Unsupported protocol version"}
)

// Envelope is one client command.
type Envelope struct {
	V    int             `json:"v"`
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type PlaceBet struct {
	Amount     decimal.Decimal `json:"amount"`
	Target     string          `json:"target,omitempty"`
	Credential string          `json:"credential"`
}

type BetRef struct {
	BetID      string `json:"betId"`
	Credential string `json:"credential"`
}

// Command is a decoded and validated envelope. Exactly one of the payload
// pointers is set, matching Type; ping carries none.
type Command struct {
	ID        string
	Type      string
	PlaceBet  *PlaceBet
	CancelBet *BetRef
	CashOut   *BetRef
}

// Decode parses a raw frame. Errors are *game.Error values carrying
// BAD_REQUEST or UNSUPPORTED_VERSION; the returned id is best effort so the
// rejection can still be correlated.
func Decode(raw []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Command{}, badRequest("invalid JSON")
	}
	cmd := Command{ID: env.ID, Type: env.Type}
	if env.V != Version {
		return cmd, ErrUnsupportedVersion
	}
	if strings.TrimSpace(env.Type) == "" {
		return cmd, badRequest("missing type")
	}

	switch env.Type {
	case TypePing:
		return cmd, nil
	case TypePlaceBet:
		var p PlaceBet
		if err := decodeData(env.Data, &p); err != nil {
			return cmd, err
		}
		if p.Amount.IsZero() {
			return cmd, badRequest("amount is required")
		}
		cmd.PlaceBet = &p
	case TypeCancelBet, TypeCashOut:
		var r BetRef
		if err := decodeData(env.Data, &r); err != nil {
			return cmd, err
		}
		if env.Type == TypeCancelBet {
			cmd.CancelBet = &r
		} else {
			cmd.CashOut = &r
		}
	default:
		return cmd, badRequest(fmt.Sprintf("unknown type %q", env.Type))
	}
	return cmd, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return badRequest("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return badRequest("invalid data: " + err.Error())
	}
	return nil
}

func badRequest(msg string) error {
	return &game.Error{Code: CodeBadRequest, Message: msg}
}

// AckFor wraps an engine ack for the wire.
func AckFor(id string, ack game.Ack) game.Event {
	return game.Event{Type: TypeAck, ID: id, Data: ack}
}

// Reject builds the ack for a decode error.
func Reject(id string, err error) game.Event {
	var ge *game.Error
	if errors.As(err, &ge) {
		return AckFor(id, game.Ack{OK: false, Code: ge.Code, Message: ge.Message})
	}
	return AckFor(id, game.Ack{OK: false, Code: CodeBadRequest, Message: err.Error()})
}

func Pong(id string) game.Event {
	return game.Event{Type: TypePong, ID: id}
}
