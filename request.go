package solanapay

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// URLScheme is the scheme of Solana Pay transfer request URLs
const URLScheme = "solana"

// ErrInvalidTransferRequest is wrapped by every request parsing and validation error
var ErrInvalidTransferRequest = errors.New("invalid transfer request")

// TransferRequest is a Solana Pay transfer request. Encoding is
// deterministic: identical requests always produce identical URLs.
type TransferRequest struct {
	Recipient  solana.PublicKey   `json:"recipient"`
	Amount     *decimal.Decimal   `json:"amount,omitempty"`
	SPLToken   *solana.PublicKey  `json:"splToken,omitempty"`
	References []solana.PublicKey `json:"references,omitempty"`
	Label      string             `json:"label,omitempty"`
	Message    string             `json:"message,omitempty"`
	Memo       string             `json:"memo,omitempty"`
}

// URL encodes the request as
// solana:<recipient>?amount=&spl-token=&reference=&label=&message=&memo=
// with the parameters in that order and empty ones omitted.
func (r TransferRequest) URL() string {
	var b strings.Builder
	b.WriteString(URLScheme)
	b.WriteByte(':')
	b.WriteString(r.Recipient.String())

	params := make([]string, 0, 5+len(r.References))
	if r.Amount != nil {
		params = append(params, "amount="+r.Amount.String())
	}
	if r.SPLToken != nil {
		params = append(params, "spl-token="+r.SPLToken.String())
	}
	for _, ref := range r.References {
		params = append(params, "reference="+ref.String())
	}
	if r.Label != "" {
		params = append(params, "label="+escapeComponent(r.Label))
	}
	if r.Message != "" {
		params = append(params, "message="+escapeComponent(r.Message))
	}
	if r.Memo != "" {
		params = append(params, "memo="+escapeComponent(r.Memo))
	}

	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(params, "&"))
	}
	return b.String()
}

// Validate checks the amount against the token's decimals
func (r TransferRequest) Validate(decimals uint8) error {
	if r.Recipient.IsZero() {
		return fmt.Errorf("%w: recipient is required", ErrInvalidTransferRequest)
	}
	if r.Amount == nil {
		return nil
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("%w: amount %s is negative", ErrInvalidTransferRequest, r.Amount)
	}
	if !r.Amount.Equal(r.Amount.Truncate(int32(decimals))) {
		return fmt.Errorf("%w: amount %s has more than %d decimals", ErrInvalidTransferRequest, r.Amount, decimals)
	}
	return nil
}

// ParseTransferRequestURL decodes a solana: transfer request URL
func ParseTransferRequestURL(raw string) (*TransferRequest, error) {
	rest, ok := strings.CutPrefix(raw, URLScheme+":")
	if !ok {
		return nil, fmt.Errorf("%w: scheme must be %q", ErrInvalidTransferRequest, URLScheme)
	}

	path, query, _ := strings.Cut(rest, "?")
	recipient, err := solana.PublicKeyFromBase58(path)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrInvalidTransferRequest, err)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrInvalidTransferRequest, err)
	}

	req := &TransferRequest{
		Recipient: recipient,
		Label:     values.Get("label"),
		Message:   values.Get("message"),
		Memo:      values.Get("memo"),
	}

	if s := values.Get("amount"); s != "" {
		amount, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: amount: %v", ErrInvalidTransferRequest, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("%w: amount %s is negative", ErrInvalidTransferRequest, s)
		}
		req.Amount = &amount
	}

	if s := values.Get("spl-token"); s != "" {
		token, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("%w: spl-token: %v", ErrInvalidTransferRequest, err)
		}
		req.SPLToken = &token
	}

	for _, s := range values["reference"] {
		ref, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("%w: reference: %v", ErrInvalidTransferRequest, err)
		}
		req.References = append(req.References, ref)
	}

	return req, nil
}

// escapeComponent percent-encodes s the way URL query components are
// encoded by wallets, with spaces as %20
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
