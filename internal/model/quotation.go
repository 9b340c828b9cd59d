package model

import (
	"github.com/shopspring/decimal"
)

// State is a step of the quotation state machine.
type State string

// Quotation states.
const (
	StateReceived      State = "received"
	StateSpecsResolved State = "specs_resolved"
	StateSpanChecked   State = "span_checked"
	StateBomExpanded   State = "bom_expanded"
	StatePriced        State = "priced"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

// Category partitions line items for display and subtotals.
type Category string

// Line item categories, in display order.
const (
	CategoryPanels      Category = "panels"
	CategoryAccessories Category = "accessories"
	CategoryFasteners   Category = "fasteners"
)

// QuoteRequest is the inbound call.
type QuoteRequest struct {
	Family        string            `json:"product_id"`
	ThicknessMM   int               `json:"thickness_mm"`
	CoveredLength decimal.Decimal   `json:"covered_length_m"`
	CoveredWidth  decimal.Decimal   `json:"covered_width_m"`
	RequestedSpan decimal.Decimal   `json:"requested_span_m"`
	Supports      int               `json:"supports,omitempty"`
	Preset        string            `json:"bom_preset"`
	Finish        map[string]string `json:"finish_options,omitempty"`
	SpanOverride  bool              `json:"span_override"`
}

// Dimensions carries what the expander measures from.
type Dimensions struct {
	Length      decimal.Decimal `json:"length_m"`
	Width       decimal.Decimal `json:"width_m"`
	Supports    int             `json:"supports"`
	ThicknessMM int             `json:"thickness_mm"`
	Family      string          `json:"family"`
}

// Covered returns the covered extent along the given dimension.
func (d Dimensions) Covered(dim Dimension) decimal.Decimal {
	if dim == DimLength {
		return d.Length
	}
	return d.Width
}

// Suggestion names an alternative thickness that satisfies the span.
type Suggestion struct {
	ThicknessMM int             `json:"thickness_mm"`
	MaxSpan     decimal.Decimal `json:"max_span_m"`
}

// SpanResult is the outcome of the self-supporting span check.
type SpanResult struct {
	Compliant       bool            `json:"compliant"`
	RequestedSpan   decimal.Decimal `json:"requested_span_m"`
	MaxSpan         decimal.Decimal `json:"max_span_m"`
	Margin          decimal.Decimal `json:"margin_m"`
	Suggestion      *Suggestion     `json:"suggestion,omitempty"`
	RequiresSupport bool            `json:"requires_support"`
	Overridden      bool            `json:"overridden"`
	Source          SourceRef       `json:"source"`
}

// UnpricedLineItem is an expanded BOM line awaiting a price.
type UnpricedLineItem struct {
	Category    Category         `json:"category"`
	Key         string           `json:"key"`
	Name        string           `json:"name"`
	Unit        UnitOfMeasure    `json:"unit"`
	Quantity    decimal.Decimal  `json:"quantity"`
	PieceLength *decimal.Decimal `json:"piece_length_m,omitempty"`
	Demand      decimal.Decimal  `json:"demand"`
	Basis       Basis            `json:"basis,omitempty"`

	// Set for panel lines only.
	Family      string `json:"family,omitempty"`
	ThicknessMM int    `json:"thickness_mm,omitempty"`
}

// IsPanel reports whether the line prices against a thickness variant.
func (u UnpricedLineItem) IsPanel() bool {
	return u.Category == CategoryPanels
}

// LineItem is one priced row of a quotation.
type LineItem struct {
	Category    Category         `json:"category"`
	Key         string           `json:"key"`
	Name        string           `json:"name"`
	Unit        UnitOfMeasure    `json:"unit"`
	Quantity    decimal.Decimal  `json:"quantity"`
	PieceLength *decimal.Decimal `json:"piece_length_m,omitempty"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	LineTotal   decimal.Decimal  `json:"line_total"`
	Source      SourceRef        `json:"source"`
}

// Conflict records a lower-precedence source disagreeing with the winner.
type Conflict struct {
	Key         string    `json:"key"`
	Winner      SourceRef `json:"winner"`
	WinnerValue string    `json:"winner_value"`
	Other       SourceRef `json:"other"`
	OtherValue  string    `json:"other_value"`
}

// Totals holds the rolled-up amounts of a quotation.
type Totals struct {
	Panels       decimal.Decimal `json:"panels"`
	Accessories  decimal.Decimal `json:"accessories"`
	Fasteners    decimal.Decimal `json:"fasteners"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	TaxInclusive bool            `json:"tax_inclusive"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	GrandTotal   decimal.Decimal `json:"grand_total"`
}

// Quotation is the completed, priced result handed to the caller.
type Quotation struct {
	ID              string       `json:"id"`
	SnapshotVersion string       `json:"snapshot_version"`
	Currency        string       `json:"currency"`
	Request         QuoteRequest `json:"request"`
	Span            SpanResult   `json:"span"`
	Panels          []LineItem   `json:"panels"`
	Accessories     []LineItem   `json:"accessories"`
	Fasteners       []LineItem   `json:"fasteners"`
	Totals          Totals       `json:"totals"`
	Conflicts       []Conflict   `json:"conflicts"`
	Warnings        []string     `json:"warnings"`
	Trace           []State      `json:"trace"`
}

// Lines returns every line item in display order.
func (q *Quotation) Lines() []LineItem {
	out := make([]LineItem, 0, len(q.Panels)+len(q.Accessories)+len(q.Fasteners))
	out = append(out, q.Panels...)
	out = append(out, q.Accessories...)
	return append(out, q.Fasteners...)
}
