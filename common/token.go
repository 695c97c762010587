package common

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenType selects the asset an operation works with: the native FLOW
// asset or the PYUSD token.
type TokenType uint8

const (
	// TokenFLOW is the native asset, 18 decimals
	TokenFLOW TokenType = 0
	// TokenPYUSD is the ERC20 secondary asset, 6 decimals
	TokenPYUSD TokenType = 1
)

const (
	flowDecimals  = 18
	pyusdDecimals = 6
)

// Valid returns true if t is a known TokenType
func (t TokenType) Valid() bool {
	return t == TokenFLOW || t == TokenPYUSD
}

// String returns the symbol of the asset
func (t TokenType) String() string {
	switch t {
	case TokenFLOW:
		return "FLOW"
	case TokenPYUSD:
		return "PYUSD"
	default:
		return fmt.Sprintf("TokenType(%d)", uint8(t))
	}
}

// Decimals returns the number of decimals of the asset minor unit
func (t TokenType) Decimals() int32 {
	if t == TokenPYUSD {
		return pyusdDecimals
	}
	return flowDecimals
}

// MarshalJSON encodes the TokenType as its symbol
func (t TokenType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, Wrap(ErrInvalidTokenType)
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the symbol ("FLOW", "PYUSD") or the numeric value
// used by the contract ABI (0, 1).
func (t *TokenType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n uint8
		if err := json.Unmarshal(b, &n); err != nil {
			return Wrap(ErrInvalidTokenType)
		}
		*t = TokenType(n)
	} else {
		tt, err := TokenTypeFromString(s)
		if err != nil {
			return Wrap(err)
		}
		*t = tt
	}
	if !t.Valid() {
		return Wrap(ErrInvalidTokenType)
	}
	return nil
}

// TokenTypeFromString parses an asset symbol, case insensitive
func TokenTypeFromString(s string) (TokenType, error) {
	switch strings.ToUpper(s) {
	case "FLOW":
		return TokenFLOW, nil
	case "PYUSD":
		return TokenPYUSD, nil
	}
	return 0, Wrap(fmt.Errorf("%w: %q", ErrInvalidTokenType, s))
}

// AmountDecimal returns amount (in minor units of the asset) as a decimal
// in whole units
func AmountDecimal(t TokenType, amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -t.Decimals())
}

// FormatAmount returns amount (in minor units of the asset) as a decimal
// string in whole units, e.g. 1500000 PYUSD -> "1.5".
func FormatAmount(t TokenType, amount *big.Int) string {
	return AmountDecimal(t, amount).String()
}

// ParseAmount parses a decimal string in whole units into minor units of
// the asset, e.g. "0.001" FLOW -> 1000000000000000.
func ParseAmount(t TokenType, s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, Wrap(err)
	}
	minor := d.Shift(t.Decimals())
	if !minor.Equal(minor.Truncate(0)) {
		return nil, Wrap(fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, s, t.Decimals()))
	}
	return minor.BigInt(), nil
}
