package core

const (
	SignalRenewalConfirmation SignalKind = "renewal_confirmation"
	SignalPriceIncrease       SignalKind = "price_increase"
	SignalCancellation        SignalKind = "cancellation"
	SignalIrrelevant          SignalKind = "irrelevant"
)

type (
	// SignalKind is the closed set of email classifications.
	SignalKind string

	// EmailSignal is the structured output of the email extractor.
	// Ephemeral input to the ledger; only the email ID survives on the
	// subscription it was applied to.
	EmailSignal struct {
		Kind        SignalKind
		MerchantKey MerchantKey
		ObservedAt  Date
		Amount      Money // zero when the email carried no amount
		HasAmount   bool
		EmailID     string
	}
)

// Valid reports whether k is a known signal kind.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalRenewalConfirmation, SignalPriceIncrease, SignalCancellation, SignalIrrelevant:
		return true
	}
	return false
}
