// Package catalog is the storefront-side client for the catalog service's
// stock ledger. Base URL and timeout are injected so no global HTTP state
// leaks between services, and every reserve/release carries a caller-chosen
// idempotency key the ledger de-duplicates on.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane/shoplane-backend/pkg/config"
	pkgerrors "github.com/shoplane/shoplane-backend/pkg/errors"
	"github.com/shoplane/shoplane-backend/pkg/types"
)

const idempotencyHeader = "Idempotency-Key"

// ProductSnapshot is the read-only product view used to validate
// purchasability and as the offer engine's reference price.
type ProductSnapshot struct {
	ProductID       uuid.UUID        `json:"productId"`
	CategoryID      uuid.UUID        `json:"categoryId"`
	Price           decimal.Decimal  `json:"price"`
	DiscountPrice   *decimal.Decimal `json:"discountPrice,omitempty"`
	Stock           int              `json:"stock"`
	Blocked         bool             `json:"blocked"`
	CategoryBlocked bool             `json:"categoryBlocked"`
}

// Client calls the catalog service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a catalog client bound to the configured base URL and
// timeout.
func NewClient(cfg config.CatalogClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("catalog base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid catalog base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("catalog timeout must be positive")
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Fetch loads the current product snapshot.
func (c *Client) Fetch(ctx context.Context, productID uuid.UUID) (*ProductSnapshot, error) {
	endpoint := fmt.Sprintf("%s/products/%s", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build fetch request")
	}

	var snapshot ProductSnapshot
	if err := c.do(req, "fetch product", &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Reserve decrements available stock by qty, failing with CodeOutOfStock
// when the ledger holds less than qty.
func (c *Client) Reserve(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error {
	return c.adjust(ctx, productID, qty, idemKey, "decrementStock", "reserve stock")
}

// Release credits qty back to the ledger. The ledger side never rejects a
// release, so any error here is a transport failure the caller must treat
// as a potential leak.
func (c *Client) Release(ctx context.Context, productID uuid.UUID, qty int, idemKey string) error {
	return c.adjust(ctx, productID, qty, idemKey, "incrementStock", "release stock")
}

func (c *Client) adjust(ctx context.Context, productID uuid.UUID, qty int, idemKey, action, op string) error {
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "qty must be at least 1")
	}
	endpoint := fmt.Sprintf("%s/products/%s/%s?qty=%s", c.baseURL, productID, action, strconv.Itoa(qty))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build "+op+" request")
	}
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}
	return c.do(req, op, nil)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		var envelope types.SuccessEnvelope
		envelope.Data = out
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode "+op+" response")
		}
		return nil
	}

	return decodeError(resp, op)
}

func decodeError(resp *http.Response, op string) error {
	var envelope types.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
		if resp.StatusCode == http.StatusNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, op+": not found")
		}
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s: upstream status %d", op, resp.StatusCode))
	}

	code := pkgerrors.Code(envelope.Error.Code)
	switch code {
	case pkgerrors.CodeNotFound, pkgerrors.CodeOutOfStock, pkgerrors.CodeValidation, pkgerrors.CodeConflict, pkgerrors.CodeIdempotency:
		return pkgerrors.New(code, envelope.Error.Message)
	default:
		return pkgerrors.New(pkgerrors.CodeDependency, envelope.Error.Message)
	}
}
