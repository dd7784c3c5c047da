package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle status reported by the escrow contract.
// Expired is never stored. It is a read-time projection, see Order.StatusAt.
type Status uint8

const (
	StatusActive Status = iota
	StatusFilled
	StatusCanceled

	// StatusExpired is derived from the clock, the contract never reports it.
	StatusExpired Status = 255
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusFilled:
		return "filled"
	case StatusCanceled:
		return "canceled"
	case StatusExpired:
		return "expired"
	}
	return "unknown"
}

// MarshalJSON renders the status by name so API payloads read "active"
// rather than the raw contract code.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return err
	}
	parsed, ok := ParseStatus(name)
	if !ok {
		return fmt.Errorf("unknown status %q", name)
	}
	*s = parsed
	return nil
}

// ParseStatus maps the query-string form back to a Status. The bool is false
// for unrecognized input.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "active":
		return StatusActive, true
	case "filled":
		return StatusFilled, true
	case "canceled":
		return StatusCanceled, true
	case "expired":
		return StatusExpired, true
	}
	return 0, false
}

// Order is one escrow order as read from the contract, plus derived fields.
// The ID is assigned by the contract and never changes; a retry on chain
// deletes the old ID and creates a new one.
type Order struct {
	ID    uint64         `json:"id"`
	Maker common.Address `json:"maker"`
	// Taker is the zero address when the order is open to any taker.
	Taker common.Address `json:"taker"`

	SellToken   common.Address `json:"sell_token"`
	SellAmount  *big.Int       `json:"sell_amount"`
	BuyToken    common.Address `json:"buy_token"`
	BuyAmount   *big.Int       `json:"buy_amount"`
	FeeToken    common.Address `json:"fee_token"`
	CreationFee *big.Int       `json:"creation_fee"`

	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	GraceEndsAt time.Time `json:"grace_ends_at"`

	Status Status `json:"status"`
	Tries  uint32 `json:"tries"`

	Deal *DealMetrics `json:"deal,omitempty"`
}

// StatusAt projects the effective status at the given time. Filled and
// Canceled are terminal; an Active order past its expiry reads as Expired.
func (o *Order) StatusAt(now time.Time) Status {
	if o.Status != StatusActive {
		return o.Status
	}
	if now.After(o.ExpiresAt) {
		return StatusExpired
	}
	return StatusActive
}

// CanFill reports whether the given account may fill the order at the given
// time: the order must read Active, the caller must not be the maker, and the
// taker slot must be open or name the caller.
func (o *Order) CanFill(account common.Address, now time.Time) bool {
	if o.StatusAt(now) != StatusActive {
		return false
	}
	if account == o.Maker {
		return false
	}
	return o.Taker == (common.Address{}) || o.Taker == account
}

// CanCancel reports whether the given account may cancel the order at the
// given time: only the maker, only while the contract status is Active, and
// only before the grace period ends.
func (o *Order) CanCancel(account common.Address, now time.Time) bool {
	if o.Status != StatusActive {
		return false
	}
	if account != o.Maker {
		return false
	}
	return now.Before(o.GraceEndsAt)
}

// ComputeTiming fills the derived timestamps from the contract constants.
func (o *Order) ComputeTiming(orderExpiry, gracePeriod time.Duration) {
	o.ExpiresAt = o.CreatedAt.Add(orderExpiry)
	o.GraceEndsAt = o.ExpiresAt.Add(gracePeriod)
}

// Clone returns a deep copy. Queries hand out clones so callers can never
// mutate cache state through a returned order.
func (o *Order) Clone() Order {
	cp := *o
	cp.SellAmount = cloneBig(o.SellAmount)
	cp.BuyAmount = cloneBig(o.BuyAmount)
	cp.CreationFee = cloneBig(o.CreationFee)
	if o.Deal != nil {
		deal := *o.Deal
		cp.Deal = &deal
	}
	return cp
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
