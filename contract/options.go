package contract

// MortgageOptions carries mortgage-program fields some carriers require.
type MortgageOptions struct {
	Bank          string  `json:"bank"`
	LoanAgreement string  `json:"loanAgreement"`
	LoanAmount    float64 `json:"loanAmount"`
	LoanDate      string  `json:"loanDate,omitempty"`
}

// OrderSession keeps the carrier order/payment-session correlation for
// carriers with an explicit order registration step.
type OrderSession struct {
	OrderID   string `json:"orderId"`
	SessionID string `json:"sessionId,omitempty"`
	FormURL   string `json:"formUrl,omitempty"`
}

// PollCorrelation keeps the ids needed to reconcile an eventually-consistent
// carrier through its status endpoint.
type PollCorrelation struct {
	RequestID string `json:"requestId"`
}

// Options is the extensible carrier-specific extension bag persisted with a
// contract: typed extensions for the known carriers plus a generic fallback.
type Options struct {
	Mortgage *MortgageOptions `json:"mortgage,omitempty"`
	Order    *OrderSession    `json:"order,omitempty"`
	Poll     *PollCorrelation `json:"poll,omitempty"`
	Extra    map[string]any   `json:"extra,omitempty"`
}

// Empty reports whether no extension data is set.
func (o Options) Empty() bool {
	return o.Mortgage == nil && o.Order == nil && o.Poll == nil && len(o.Extra) == 0
}
