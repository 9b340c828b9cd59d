package quote

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/panel-quote/internal/model"
)

// ErrInvalidRequest marks malformed quote requests.
var ErrInvalidRequest = eris.New("quote: invalid request")

// ValidateRequest checks the shape of a request before any lookup.
func ValidateRequest(req model.QuoteRequest) error {
	var problems []string
	if strings.TrimSpace(req.Family) == "" {
		problems = append(problems, "product_id is required")
	}
	if req.ThicknessMM <= 0 {
		problems = append(problems, "thickness_mm must be positive")
	}
	if !req.CoveredLength.IsPositive() {
		problems = append(problems, "covered_length_m must be positive")
	}
	if !req.CoveredWidth.IsPositive() {
		problems = append(problems, "covered_width_m must be positive")
	}
	if !req.RequestedSpan.IsPositive() {
		problems = append(problems, "requested_span_m must be positive")
	}
	if req.Supports < 0 {
		problems = append(problems, "supports must not be negative")
	}
	if strings.TrimSpace(req.Preset) == "" {
		problems = append(problems, "bom_preset is required")
	}
	if len(problems) > 0 {
		return eris.Wrap(ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}
