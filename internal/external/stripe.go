package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pulsemetrics/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeConfig holds the configuration for creating a StripeProvider.
type StripeConfig struct {
	SecretKey types.SecretString
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeProvider moves user subscriptions between plan tiers by making direct
// HTTP calls to the Stripe REST API through BaseClient. This approach routes
// all requests through the platform's resilience infrastructure (circuit
// breaker, retries, error mapping) and makes testing with httptest
// straightforward.
type StripeProvider struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeProvider creates a new StripeProvider. The httpClient timeout
// should be around 20 seconds; Stripe calls are synchronous on the plan-change
// request path.
func NewStripeProvider(httpClient *http.Client, cfg StripeConfig) *StripeProvider {
	base := NewBaseClient(
		httpClient,
		"stripe",
		"PulseMetrics/1.0",
		WithRetryPolicy(RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		}),
	)
	return NewStripeProviderWithBase(base, cfg)
}

// NewStripeProviderWithBase creates a StripeProvider with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewStripeProviderWithBase(base *BaseClient, cfg StripeConfig) *StripeProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeProvider{
		base:      base,
		secretKey: cfg.SecretKey.Unmask(),
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// PaymentProvider Implementation
// ---------------------------------------------------------------------------

// ChangePlan moves the user's Stripe subscription to the target tier and
// returns the affected subscription ID. The flow is:
//  1. Resolve or create the Stripe customer by metadata['user_id'] search.
//  2. Look up the customer's active subscription.
//  3. Downgrade to free cancels the subscription; any other target updates
//     the subscription item's price in place (with prorations), or creates a
//     new subscription when none exists.
//
// Downgrading a user who has no subscription is a no-op and returns an empty
// subscription ID.
func (s *StripeProvider) ChangePlan(ctx context.Context, userID string, target types.PlanTier) (string, error) {
	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	sub, err := s.activeSubscription(ctx, customerID)
	if err != nil {
		return "", err
	}

	if target == types.PlanFree {
		if sub == nil {
			return "", nil
		}
		return sub.ID, s.cancelSubscription(ctx, sub.ID)
	}

	if sub != nil {
		return sub.ID, s.updateSubscription(ctx, sub, target)
	}
	return s.createSubscription(ctx, customerID, userID, target)
}

// ensureCustomer retrieves or creates a Stripe customer for the given user.
// Search-first prevents duplicate customers when plan changes race.
func (s *StripeProvider) ensureCustomer(ctx context.Context, userID string) (string, error) {
	searchQuery := fmt.Sprintf("metadata['user_id']:'%s'", userID)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("ChangePlan.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "ChangePlan.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		return searchResult.Data[0].ID, nil
	}

	createParams := url.Values{}
	createParams.Set("metadata[user_id]", userID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("ChangePlan.createCustomer", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "ChangePlan.createCustomer")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	s.logger.InfoContext(ctx, "created stripe customer",
		"user_id", userID,
		"customer_id", customer.ID,
	)
	return customer.ID, nil
}

// activeSubscription returns the customer's active subscription, or nil if
// the customer has none.
func (s *StripeProvider) activeSubscription(ctx context.Context, customerID string) (*stripeSubscription, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("status", "active")
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/subscriptions", params)
	if err != nil {
		return nil, s.wrapStripeError("ChangePlan.listSubscriptions", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ChangePlan.listSubscriptions")
	}

	var list stripeSubscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription list response",
			err,
		)
	}

	if len(list.Data) == 0 {
		return nil, nil
	}
	return &list.Data[0], nil
}

// updateSubscription swaps the subscription's single item to the target
// tier's price, prorating the difference.
func (s *StripeProvider) updateSubscription(ctx context.Context, sub *stripeSubscription, target types.PlanTier) error {
	params := url.Values{}
	if len(sub.Items.Data) > 0 {
		params.Set("items[0][id]", sub.Items.Data[0].ID)
	}
	params.Set("items[0][price]", stripePriceID(target))
	params.Set("proration_behavior", "create_prorations")

	resp, err := s.doPost(ctx, "/v1/subscriptions/"+sub.ID, params)
	if err != nil {
		return s.wrapStripeError("ChangePlan.updateSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "ChangePlan.updateSubscription")
	}
	return nil
}

// createSubscription starts a new subscription on the target tier.
func (s *StripeProvider) createSubscription(ctx context.Context, customerID, userID string, target types.PlanTier) (string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("items[0][price]", stripePriceID(target))
	params.Set("metadata[user_id]", userID)

	resp, err := s.doPost(ctx, "/v1/subscriptions", params)
	if err != nil {
		return "", s.wrapStripeError("ChangePlan.createSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "ChangePlan.createSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription creation response",
			err,
		)
	}
	return sub.ID, nil
}

// cancelSubscription cancels the subscription immediately.
func (s *StripeProvider) cancelSubscription(ctx context.Context, subscriptionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/v1/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return err
	}
	s.setAuthHeaders(req)

	resp, err := s.base.Do(req)
	if err != nil {
		return s.wrapStripeError("ChangePlan.cancelSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "ChangePlan.cancelSubscription")
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeProvider) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request to the Stripe API with
// form-encoded body.
func (s *StripeProvider) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and content headers.
func (s *StripeProvider) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a types.AppError.
func (s *StripeProvider) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamPayment,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamPayment,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into a types.AppError.
func (s *StripeProvider) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	// Card declines carry the decline code through so the API layer can
	// surface it to the user.
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamPayment,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamPayment,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeProvider) wrapStripeError(operation string, err error) error {
	// BaseClient failures (circuit breaker, retries exhausted) already carry
	// the right error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamPayment,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSearchResult struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeSubscription struct {
	ID       string                  `json:"id"`
	Status   string                  `json:"status"`
	Customer string                  `json:"customer"`
	Items    stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	ID    string      `json:"id"`
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

// ---------------------------------------------------------------------------
// Price ID <-> Plan Tier Mapping
// ---------------------------------------------------------------------------

// PlanToPrice maps paid plan tiers to Stripe Price IDs. The free tier has no
// entry; downgrading to free cancels the subscription instead. In production
// these IDs come from the Stripe dashboard for the live account.
var PlanToPrice = map[types.PlanTier]string{
	types.PlanPro:        "price_pulsemetrics_pro",
	types.PlanBusiness:   "price_pulsemetrics_business",
	types.PlanEnterprise: "price_pulsemetrics_enterprise",
}

// stripePriceID returns the Stripe Price ID for a given plan tier.
func stripePriceID(plan types.PlanTier) string {
	if id, ok := PlanToPrice[plan]; ok {
		return id
	}
	return "price_pulsemetrics_" + string(plan)
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier validates Stripe webhook signatures using stripe-go's
// HMAC-SHA256 verification with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header
// and signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}
