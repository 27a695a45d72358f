// Package venue classifies exchange rejection errors into a closed set of
// kinds. Classification mirrors the venue's actual error contract: a numeric
// code plus a message whose wording identifies the violated filter.
package venue

import (
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
)

// Kind is a classified venue rejection.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotional
	KindLotSize
	KindMarketLotSize
	KindInsufficientBalance
	KindIlliquid
)

const (
	codeFilterFailure       = -1013
	codeInsufficientBalance = -2010
)

// Classify maps an error returned by the exchange client to a Kind.
// Non-API errors and unrecognized rejections classify as KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return KindUnknown
	}

	msg := strings.ToUpper(apiErr.Message)

	switch apiErr.Code {
	case codeFilterFailure:
		// MARKET_LOT_SIZE contains LOT_SIZE as a substring, check it first.
		switch {
		case strings.Contains(msg, "MARKET_LOT_SIZE"):
			return KindMarketLotSize
		case strings.Contains(msg, "LOT_SIZE"):
			return KindLotSize
		case strings.Contains(msg, "NOTIONAL"):
			return KindNotional
		}
	case codeInsufficientBalance:
		if strings.Contains(msg, "INSUFFICIENT BALANCE") {
			return KindInsufficientBalance
		}
	}

	if strings.Contains(msg, "LIQUIDITY") {
		return KindIlliquid
	}

	return KindUnknown
}

// Message returns the human-readable description for a classified rejection.
func Message(k Kind) string {
	switch k {
	case KindNotional:
		return "order value too small (below minimum notional)"
	case KindLotSize:
		return "quantity violates LOT_SIZE filter"
	case KindMarketLotSize:
		return "quantity violates MARKET_LOT_SIZE filter"
	case KindInsufficientBalance:
		return "insufficient balance for requested action"
	case KindIlliquid:
		return "no liquidity on the market"
	default:
		return "order rejected by venue"
	}
}
