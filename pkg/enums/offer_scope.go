package enums

import "fmt"

// OfferScope describes whether an offer targets one product or a whole category.
type OfferScope string

const (
	OfferScopeProduct  OfferScope = "PRODUCT"
	OfferScopeCategory OfferScope = "CATEGORY"
	// OfferScopeNone is never persisted; it marks a price computation where
	// no offer applied.
	OfferScopeNone OfferScope = "NONE"
)

var validOfferScopes = []OfferScope{
	OfferScopeProduct,
	OfferScopeCategory,
}

// IsValid reports whether the value matches a persistable offer scope.
func (o OfferScope) IsValid() bool {
	for _, candidate := range validOfferScopes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOfferScope converts the raw string to OfferScope.
func ParseOfferScope(value string) (OfferScope, error) {
	for _, candidate := range validOfferScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid offer scope %q", value)
}
