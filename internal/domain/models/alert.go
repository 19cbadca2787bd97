package models

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryBias     Category = "bias"
	CategoryTrend    Category = "trend"
	CategoryEntry    Category = "entry"
	CategoryReversal Category = "reversal"
	CategoryExit     Category = "exit"
)

type Timeframe string

const (
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

// Direction is the market polarity an alert points to.
type Direction string

const (
	Bull Direction = "bull"
	Bear Direction = "bear"
)

func (d Direction) Opposite() Direction {
	if d == Bull {
		return Bear
	}
	return Bull
}

// Side is the trade side that follows the direction.
func (d Direction) Side() Side {
	if d == Bull {
		return Buy
	}
	return Sell
}

// Trend label used in notifications and the control API.
func (d Direction) Trend() string {
	switch d {
	case Bull:
		return "BULLISH"
	case Bear:
		return "BEARISH"
	default:
		return "NEUTRAL"
	}
}

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Direction() Direction {
	if s == Buy {
		return Bull
	}
	return Bear
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == Buy {
		return 1
	}
	return -1
}

// Alert is an inbound signal. Direction is derived from Signal during admission.
type Alert struct {
	Symbol     string    `json:"symbol" validate:"required,max=32"`
	Timeframe  Timeframe `json:"tf" validate:"required,oneof=5m 15m 1h 1d"`
	Category   Category  `json:"type" validate:"required,oneof=bias trend entry reversal exit"`
	Signal     string    `json:"signal" validate:"required,oneof=buy sell bull bear reversal_bull reversal_bear"`
	Price      float64   `json:"price,omitempty" validate:"gte=0"`
	Strategy   string    `json:"strategy,omitempty" validate:"max=64"`
	Source     string    `json:"source,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	Direction    Direction `json:"direction,omitempty"`
	BrokerSymbol string    `json:"broker_symbol,omitempty"`
}

// Fingerprint identifies structurally identical alerts for dedup.
func (a Alert) Fingerprint() string {
	return strings.Join([]string{a.Symbol, string(a.Timeframe), string(a.Category), string(a.Direction)}, "|")
}

// Logic is the entry strategy bound to an entry timeframe.
type Logic string

const (
	Logic1 Logic = "LOGIC1" // 5m entries on 1h bias + 15m trend
	Logic2 Logic = "LOGIC2" // 15m entries on 1h bias + 15m trend
	Logic3 Logic = "LOGIC3" // 1h entries on 1d bias + 1h trend
)

// LogicFor maps an entry timeframe to its logic. Daily entries have none.
func LogicFor(tf Timeframe) (Logic, bool) {
	switch tf {
	case TF5m:
		return Logic1, true
	case TF15m:
		return Logic2, true
	case TF1h:
		return Logic3, true
	default:
		return "", false
	}
}

// Quote is a streamed last price.
type Quote struct {
	Symbol string
	Price  float64
	At     time.Time
}
