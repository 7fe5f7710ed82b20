package types

// Event is the canonical payload broadcast after a successful state
// transition. Attributes hold hex- or decimal-encoded fields so payloads stay
// deterministic and trivially serialisable.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
