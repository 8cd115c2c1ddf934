package types

// PositionSide is the direction of an open position or a closed trade.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position is the single net exposure of a run. Size is signed: positive
// long, negative short, zero flat. At most one open position exists at any
// time; sign changes always pass through a flattening fill.
type Position struct {
	Size       float64 `yaml:"size" json:"size"`
	EntryPrice float64 `yaml:"entry_price" json:"entry_price"`
	EntryTime  int64   `yaml:"entry_time" json:"entry_time"`
	// EntryFee is the commission accrued when opening the position. The exit
	// commission is computed on close; the two must never be double-counted
	// between trade pnl and the cash ledger.
	EntryFee float64 `yaml:"entry_fee" json:"entry_fee"`
}

// IsFlat reports whether there is no open exposure.
func (p Position) IsFlat() bool {
	return p.Size == 0
}

// Side returns the direction of the open position, or "" when flat.
func (p *Position) Side() PositionSide {
	switch {
	case p.Size > 0:
		return PositionSideLong
	case p.Size < 0:
		return PositionSideShort
	default:
		return ""
	}
}

// UnrealizedPnL values the open position at the given mark price.
// Long: size * (mark - entry); short is sign-inverted through the signed size.
func (p *Position) UnrealizedPnL(markPrice float64) float64 {
	if p.Size == 0 {
		return 0
	}

	return p.Size * (markPrice - p.EntryPrice)
}

// Close resets the position to flat.
func (p *Position) Close() {
	p.Size = 0
	p.EntryPrice = 0
	p.EntryTime = 0
	p.EntryFee = 0
}

// Trade is a closed round-trip. PnL is net of both entry and exit fees.
type Trade struct {
	Side       PositionSide `yaml:"side" json:"side"`
	Size       float64      `yaml:"size" json:"size"`
	EntryTime  int64        `yaml:"entry_time" json:"entry_time"`
	EntryPrice float64      `yaml:"entry_price" json:"entry_price"`
	ExitTime   int64        `yaml:"exit_time" json:"exit_time"`
	ExitPrice  float64      `yaml:"exit_price" json:"exit_price"`
	PnL        float64      `yaml:"pnl" json:"pnl"`
	FeeTotal   float64      `yaml:"fee_total" json:"fee_total"`
	BarsHeld   int          `yaml:"bars_held" json:"bars_held"`
}
