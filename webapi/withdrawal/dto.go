package withdrawal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	withdrawalsvc "github.com/amirasaad/coopcredit/pkg/withdrawal"
	"github.com/shopspring/decimal"
)

// CreateWithdrawalRequest represents the request body for POST /retraits.
type CreateWithdrawalRequest struct {
	Account       string          `json:"compte" validate:"required,max=32"`
	Currency      string          `json:"devise" validate:"required,oneof=FC USD CDF fc usd cdf"`
	Amount        decimal.Decimal `json:"montant"`
	OperationDate string          `json:"dateOperation" validate:"required"`
	Description   string          `json:"description" validate:"max=500"`
}

// QuoteRequest represents the request body for POST /retraits/simulation.
type QuoteRequest struct {
	Currency string          `json:"devise" validate:"required,oneof=FC USD CDF fc usd cdf"`
	Amount   decimal.Decimal `json:"montant"`
}

// WithdrawalResponse is the body of an admitted withdrawal.
type WithdrawalResponse struct {
	Reference    string                `json:"reference"`
	Currency     money.Code            `json:"devise"`
	Amount       json.Number           `json:"montant"`
	Fee          json.Number           `json:"frais"`
	NetDebit     json.Number           `json:"montantDebite"`
	BalanceAfter json.Number           `json:"soldeApres"`
	Status       withdrawalsvc.Outcome `json:"statut"`
	Replayed     bool                  `json:"rejoue,omitempty"`
}

// QuoteResponse is the body of a fee simulation.
type QuoteResponse struct {
	Currency      money.Code  `json:"devise"`
	Amount        json.Number `json:"montant"`
	Fee           json.Number `json:"frais"`
	NetDebit      json.Number `json:"montantDebite"`
	Equivalent    json.Number `json:"contreValeur"`
	EquivalentCcy money.Code  `json:"deviseContreValeur"`
	Tier          int         `json:"palier"`
	TierMax       json.Number `json:"palierMax"`
	Rate          json.Number `json:"taux"`
	WithinBounds  bool        `json:"dansLesLimites"`
	ParamsVersion int64       `json:"versionParametres"`
}

// ParametersResponse is the body of GET /parametres.
type ParametersResponse struct {
	Version     int64           `json:"version"`
	EffectiveAt time.Time       `json:"dateEffet"`
	Timezone    string          `json:"fuseauHoraire"`
	Parameters  policy.Document `json:"parametres"`
}

// UsageResponse is the body of GET /membres/:id/plafonds.
type UsageResponse struct {
	Member          string      `json:"compte"`
	Currency        money.Code  `json:"devise"`
	Day             limits.Day  `json:"date"`
	Count           int         `json:"nombre"`
	Total           json.Number `json:"total"`
	RemainingCount  int         `json:"nombreRestant"`
	RemainingAmount json.Number `json:"montantRestant"`
}

// toRequest validates the wire fields the validator tag cannot express and
// builds the domain request.
func (r *CreateWithdrawalRequest) toRequest(loc *time.Location) (withdrawalsvc.Request, error) {
	code, err := money.ParseCode(r.Currency)
	if err != nil {
		return withdrawalsvc.Request{}, err
	}
	if !r.Amount.IsPositive() {
		return withdrawalsvc.Request{}, fmt.Errorf("%w: montant must be positive", withdrawalsvc.ErrInvalidRequest)
	}
	amount, err := money.New(r.Amount, code)
	if err != nil {
		return withdrawalsvc.Request{}, err
	}
	at, err := parseOperationDate(r.OperationDate, loc)
	if err != nil {
		return withdrawalsvc.Request{}, err
	}
	return withdrawalsvc.Request{
		MemberID:    strings.TrimSpace(r.Account),
		Amount:      amount,
		Reason:      r.Description,
		RequestedAt: at,
	}, nil
}

var operationDateLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseOperationDate accepts RFC 3339 and, without an offset, local times in loc.
func parseOperationDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range operationDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: dateOperation %q is not an ISO-8601 date", withdrawalsvc.ErrInvalidRequest, s)
}

func amountJSON(m money.Money) json.Number {
	c, _ := m.Code().ToCurrency()
	return json.Number(m.Decimal().StringFixed(int32(c.Decimals)))
}

func toWithdrawalResponse(d *withdrawalsvc.Decision) WithdrawalResponse {
	return WithdrawalResponse{
		Reference:    d.RequestID.String(),
		Currency:     d.Amount.Code(),
		Amount:       amountJSON(d.Amount),
		Fee:          amountJSON(d.Fee),
		NetDebit:     amountJSON(d.NetDebit),
		BalanceAfter: amountJSON(d.BalanceAfter),
		Status:       d.Outcome,
		Replayed:     d.Replayed,
	}
}

func toQuoteResponse(q *withdrawalsvc.Quote) QuoteResponse {
	return QuoteResponse{
		Currency:      q.Amount.Code(),
		Amount:        amountJSON(q.Amount),
		Fee:           amountJSON(q.Fee),
		NetDebit:      amountJSON(q.NetDebit),
		Equivalent:    amountJSON(q.NetDebitOther),
		EquivalentCcy: q.NetDebitOther.Code(),
		Tier:          q.TierIndex + 1,
		TierMax:       amountJSON(q.Tier.Max),
		Rate:          json.Number(q.Tier.Rate.String()),
		WithinBounds:  q.WithinBounds,
		ParamsVersion: q.ParamsVersion,
	}
}
