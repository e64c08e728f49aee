// Package email turns imported emails into structured signals for the ledger.
// Classification is a pluggable capability; the default implementation uses
// keyword heuristics. Extraction is total: unclassifiable content degrades to
// an irrelevant signal instead of failing.
package email

import (
	"regexp"
	"strings"

	"subtrack/internal/core"
	"subtrack/internal/merchant"
)

// Email is a raw imported email.
type Email struct {
	ID         string
	Subject    string
	Body       string
	ReceivedAt core.Date
}

// Classifier is the pluggable classification capability.
type Classifier interface {
	Classify(text string) core.SignalKind
	ExtractAmount(text string) (core.Money, bool)
	ExtractMerchant(text string) core.MerchantKey
}

// Extractor produces EmailSignals from raw emails.
type Extractor struct {
	classifier Classifier
}

func NewExtractor(c Classifier) *Extractor {
	if c == nil {
		c = NewKeywordClassifier()
	}
	return &Extractor{classifier: c}
}

// Extract classifies a raw email into a signal. Never fails: anything the
// classifier cannot place, including signals without a usable merchant key,
// comes back as irrelevant.
func (e *Extractor) Extract(em Email) core.EmailSignal {
	sig := core.EmailSignal{
		Kind:       core.SignalIrrelevant,
		ObservedAt: em.ReceivedAt,
		EmailID:    em.ID,
	}

	text := em.Subject + " " + em.Body
	kind := e.classifier.Classify(text)
	if kind == core.SignalIrrelevant || !kind.Valid() {
		return sig
	}

	key := e.classifier.ExtractMerchant(em.Subject)
	if key == "" {
		key = e.classifier.ExtractMerchant(em.Body)
	}
	if key == "" {
		// A signal that cannot be joined to a merchant is useless noise.
		return sig
	}

	sig.Kind = kind
	sig.MerchantKey = key
	if amount, ok := e.classifier.ExtractAmount(text); ok {
		sig.Amount = amount
		sig.HasAmount = true
	}
	return sig
}

// emailNoiseTokens are words common in subscription emails that carry no
// merchant identity. Fed to the normalizer on top of its own strip list.
var emailNoiseTokens = []string{
	"your", "you", "the", "a", "an", "for", "from", "to", "on", "of", "is",
	"has", "been", "will", "we", "our", "new", "now",
	"renew", "renews", "renewal", "renewed", "renewing",
	"cancel", "cancels", "canceled", "cancelled", "cancellation",
	"price", "increase", "increasing", "rate", "change", "changing",
	"confirmation", "confirmed", "receipt", "invoice", "reminder", "notice",
	"account", "membership", "plan", "update", "important",
}

var amountPattern = regexp.MustCompile(`(?:€|\$|£|(?i:eur|usd|gbp|sek))\s*([0-9]+(?:[.,][0-9]{1,2})?)`)

// KeywordClassifier is the default heuristic classifier.
type KeywordClassifier struct {
	normalizer *merchant.Normalizer
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{normalizer: merchant.NewNormalizer(emailNoiseTokens)}
}

// Classify picks the most specific matching kind: cancellation beats price
// increase beats renewal, since cancellation emails often mention renewal.
func (c *KeywordClassifier) Classify(text string) core.SignalKind {
	lower := strings.ToLower(text)

	cancellation := []string{"cancellation", "cancelled", "canceled", "has been cancel", "cancel confirm"}
	priceIncrease := []string{"price increase", "price is increasing", "price will increase", "new price", "higher rate", "price is changing", "price change"}
	renewal := []string{"renewal", "will renew", "renews on", "has renewed", "auto-renew", "renewed"}

	for _, kw := range cancellation {
		if strings.Contains(lower, kw) {
			return core.SignalCancellation
		}
	}
	for _, kw := range priceIncrease {
		if strings.Contains(lower, kw) {
			return core.SignalPriceIncrease
		}
	}
	for _, kw := range renewal {
		if strings.Contains(lower, kw) {
			return core.SignalRenewalConfirmation
		}
	}
	return core.SignalIrrelevant
}

// ExtractAmount finds the first currency-marked amount in the text.
func (c *KeywordClassifier) ExtractAmount(text string) (core.Money, bool) {
	m := amountPattern.FindStringSubmatch(text)
	if m == nil {
		return core.Money{}, false
	}
	cents, err := core.ParseDecimalToCents(m[1])
	if err != nil {
		return core.Money{}, false
	}
	return core.Money{Cents: cents}, true
}

// ExtractMerchant normalizes the text with email-specific noise stripped and
// keeps the leading token as the merchant key.
func (c *KeywordClassifier) ExtractMerchant(text string) core.MerchantKey {
	key := string(c.normalizer.Normalize(text))
	if key == "" {
		return ""
	}
	fields := strings.Fields(key)
	return core.MerchantKey(fields[0])
}
