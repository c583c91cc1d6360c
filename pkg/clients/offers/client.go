// Package offers is the storefront-side client for the offer engine.
package offers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane/shoplane-backend/pkg/config"
	"github.com/shoplane/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane/shoplane-backend/pkg/errors"
	"github.com/shoplane/shoplane-backend/pkg/types"
)

// BestOfferRequest asks for the single best discount applicable to a
// product at evaluation time.
type BestOfferRequest struct {
	ProductID     *uuid.UUID      `json:"productId,omitempty"`
	CategoryID    *uuid.UUID      `json:"categoryId,omitempty"`
	OriginalPrice decimal.Decimal `json:"originalPrice"`
}

// BestOfferResponse mirrors the offer engine's computation result.
type BestOfferResponse struct {
	OriginalPrice  decimal.Decimal  `json:"originalPrice"`
	DiscountAmount decimal.Decimal  `json:"discountAmount"`
	FinalPrice     decimal.Decimal  `json:"finalPrice"`
	AppliedScope   enums.OfferScope `json:"appliedScope"`
	AppliedOfferID *uuid.UUID       `json:"appliedOfferId,omitempty"`
}

// Client calls the offer engine over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds an offers client bound to the configured base URL and
// timeout.
func NewClient(cfg config.OffersClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("offers base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid offers base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("offers timeout must be positive")
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// BestOffer returns the best applicable discount for the request.
func (c *Client) BestOffer(ctx context.Context, input BestOfferRequest) (*BestOfferResponse, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode best offer request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/offers/best", bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build best offer request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "best offer call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope types.ErrorEnvelope
		if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr == nil && envelope.Error.Code != "" {
			code := pkgerrors.Code(envelope.Error.Code)
			if code == pkgerrors.CodeValidation {
				return nil, pkgerrors.New(code, envelope.Error.Message)
			}
			return nil, pkgerrors.New(pkgerrors.CodeDependency, envelope.Error.Message)
		}
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("best offer: upstream status %d", resp.StatusCode))
	}

	var result BestOfferResponse
	envelope := types.SuccessEnvelope{Data: &result}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode best offer response")
	}
	return &result, nil
}
