package types

// Portfolio owns cash, equity and drawdown state for one run. It is
// recomputed at mark-to-market every bar and after every fill.
type Portfolio struct {
	Cash        float64 `yaml:"cash" json:"cash"`
	Equity      float64 `yaml:"equity" json:"equity"`
	PeakEquity  float64 `yaml:"peak_equity" json:"peak_equity"`
	Drawdown    float64 `yaml:"drawdown" json:"drawdown"`
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown"`
}

// NewPortfolio creates a portfolio funded with the initial cash.
func NewPortfolio(initialCash float64) Portfolio {
	return Portfolio{
		Cash:       initialCash,
		Equity:     initialCash,
		PeakEquity: initialCash,
	}
}

// MarkToMarket revalues equity as cash plus the unrealized pnl of the open
// position at the given mark price, then updates the running drawdown.
func (p *Portfolio) MarkToMarket(position *Position, markPrice float64) {
	p.Equity = p.Cash + position.UnrealizedPnL(markPrice)
	p.updateDrawdown()
}

func (p *Portfolio) updateDrawdown() {
	if p.Equity > p.PeakEquity {
		p.PeakEquity = p.Equity
	}

	if p.PeakEquity > 0 {
		p.Drawdown = (p.PeakEquity - p.Equity) / p.PeakEquity
	} else {
		p.Drawdown = 0
	}

	if p.Drawdown > p.MaxDrawdown {
		p.MaxDrawdown = p.Drawdown
	}
}

// EquityPoint is one per-bar sample of the equity curve. Bars before the
// trading window start are not sampled.
type EquityPoint struct {
	Time         int64   `yaml:"time" json:"time"`
	Equity       float64 `yaml:"equity" json:"equity"`
	Drawdown     float64 `yaml:"drawdown" json:"drawdown"`
	PositionSize float64 `yaml:"position_size" json:"position_size"`
	Price        float64 `yaml:"price" json:"price"`
}
