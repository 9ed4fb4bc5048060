package scanper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/metrics"
	"github.com/scanper/liff-dashboard/internal/model"
)

// Client calls the ScanPer backend on behalf of a LINE user. Each method makes
// exactly one request; retrying is left to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("service", "ScanPerClient").Logger(),
	}
}

type endpoint struct {
	name        string
	method      string
	path        string
	notFoundMsg string
}

var (
	epUser            = endpoint{name: "user", method: http.MethodGet, path: "/liff/user"}
	epDisplayName     = endpoint{name: "display_name", method: http.MethodPatch, path: "/liff/user/display-name", notFoundMsg: MsgUserNotFound}
	epFreeClaimStatus = endpoint{name: "free_claim_status", method: http.MethodGet, path: "/liff/free-claim/status"}
	epFreeClaim       = endpoint{name: "free_claim", method: http.MethodPost, path: "/liff/free-claim/claim"}
	epPackages        = endpoint{name: "packages", method: http.MethodGet, path: "/payment/packages"}
	epCreateCharge    = endpoint{name: "create_charge", method: http.MethodPost, path: "/payment/create-charge"}
	epPending         = endpoint{name: "pending", method: http.MethodGet, path: "/payment/pending"}
	epHistory         = endpoint{name: "history", method: http.MethodGet, path: "/payment/history"}
)

// UserResult holds exactly one of Account or NotFound.
type UserResult struct {
	Account  *model.UserData
	NotFound *model.UserNotFound
}

// FetchUser returns the account view, or the not-found view when the backend
// reports the user has no account yet (a body carrying a "message" field).
func (c *Client) FetchUser(ctx context.Context, accessToken string) (*UserResult, error) {
	var body json.RawMessage
	if err := c.do(ctx, epUser, accessToken, nil, &body); err != nil {
		return nil, err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil || probe == nil {
		return nil, c.decodeError(epUser, err)
	}
	if _, ok := probe["message"]; ok {
		var nf model.UserNotFound
		if err := json.Unmarshal(body, &nf); err != nil {
			return nil, c.decodeError(epUser, err)
		}
		return &UserResult{NotFound: &nf}, nil
	}

	var data model.UserData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, c.decodeError(epUser, err)
	}
	return &UserResult{Account: &data}, nil
}

func (c *Client) UpdateDisplayName(ctx context.Context, accessToken, displayName string) (*model.DisplayNameUpdate, error) {
	var out model.DisplayNameUpdate
	req := map[string]string{"display_name": displayName}
	if err := c.do(ctx, epDisplayName, accessToken, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "Failed to update display name"
		}
		return nil, &Error{Kind: KindValidation, Status: http.StatusOK, Message: msg}
	}
	return &out, nil
}

func (c *Client) FreeClaimStatus(ctx context.Context, accessToken string) (*model.FreeClaimStatus, error) {
	var out model.FreeClaimStatus
	if err := c.do(ctx, epFreeClaimStatus, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ClaimFreePages(ctx context.Context, accessToken string) (*model.FreeClaimResult, error) {
	var out model.FreeClaimResult
	if err := c.do(ctx, epFreeClaim, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PaymentPackages(ctx context.Context, accessToken string) ([]model.PaymentPackage, error) {
	var out []model.PaymentPackage
	if err := c.do(ctx, epPackages, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateCharge(ctx context.Context, accessToken string, amountTHB int) (*model.ChargeIntent, error) {
	var out model.ChargeIntent
	req := model.CreateChargeRequest{AmountTHB: amountTHB}
	if err := c.do(ctx, epCreateCharge, accessToken, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PendingPayment returns nil when the backend has no unresolved charge.
func (c *Client) PendingPayment(ctx context.Context, accessToken string) (*model.PendingPayment, error) {
	var out *model.PendingPayment
	if err := c.do(ctx, epPending, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PaymentHistory(ctx context.Context, accessToken string) ([]model.PaymentHistoryItem, error) {
	var out []model.PaymentHistoryItem
	if err := c.do(ctx, epHistory, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, ep endpoint, accessToken string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err).String()
		}
		metrics.BackendRequestsTotal.WithLabelValues(ep.name, outcome).Inc()
		metrics.BackendRequestDuration.WithLabelValues(ep.name).Observe(time.Since(start).Seconds())
	}()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, ep.method, c.baseURL+ep.path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", ep.name).Msg("ScanPer API request failed")
		return &Error{Kind: KindNetwork, Message: MsgConnectFailed, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn().Err(closeErr).Msg("Failed to close response body")
		}
	}()

	c.logger.Debug().Str("endpoint", ep.name).Int("status_code", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("ScanPer API response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(ep, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.decodeError(ep, err)
	}
	return nil
}

func (c *Client) statusError(ep endpoint, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &Error{Kind: KindAuth, Status: resp.StatusCode, Message: MsgAuthFailed}
	case resp.StatusCode == http.StatusBadRequest:
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			c.logger.Warn().Err(readErr).Str("endpoint", ep.name).Msg("Failed to read error body")
		}
		return &Error{Kind: KindValidation, Status: resp.StatusCode, Message: validationMessage(bodyBytes)}
	case resp.StatusCode == http.StatusNotFound && ep.notFoundMsg != "":
		return &Error{Kind: KindNotFound, Status: resp.StatusCode, Message: ep.notFoundMsg}
	default:
		c.logger.Error().Str("endpoint", ep.name).Int("status_code", resp.StatusCode).Msg("ScanPer API returned error")
		return statusError(resp.StatusCode)
	}
}

func (c *Client) decodeError(ep endpoint, err error) error {
	c.logger.Error().Err(err).Str("endpoint", ep.name).Msg("Failed to decode ScanPer API response")
	return &Error{Kind: KindDecode, Message: MsgInvalidResponse, Err: err}
}
