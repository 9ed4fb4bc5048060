package scanper

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zerolog.Nop())
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestFetchUserThreeWayResult(t *testing.T) {
	account := `{"line_user_id":"U1","display_name":null,"ocr_count_session":3,"ocr_limit":20,"ocr_remaining":17,"ocr_count_total":40,"message_count":9,"first_seen_at":"2025-01-01T00:00:00Z","last_seen_at":"2025-02-01T00:00:00Z"}`
	notFound := `{"message":"User not found","line_user_id":"U1","display_name":"Ann"}`

	tests := []struct {
		name         string
		handler      http.HandlerFunc
		wantAccount  bool
		wantNotFound bool
		wantMessage  string
		wantKind     Kind
	}{
		{name: "account", handler: respond(http.StatusOK, account), wantAccount: true},
		{name: "not found body", handler: respond(http.StatusOK, notFound), wantNotFound: true},
		{name: "unauthorized", handler: respond(http.StatusUnauthorized, `{}`), wantMessage: "Authentication failed. Please try logging in again.", wantKind: KindAuth},
		{name: "server error", handler: respond(http.StatusInternalServerError, `oops`), wantMessage: "Error: 500", wantKind: KindStatus},
		{name: "garbage body", handler: respond(http.StatusOK, `not json`), wantMessage: MsgInvalidResponse, wantKind: KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			res, err := c.FetchUser(t.Context(), "tok")

			populated := 0
			if err != nil {
				populated++
				assert.Equal(t, tt.wantMessage, err.Error())
				assert.Equal(t, tt.wantKind, KindOf(err))
				assert.Nil(t, res)
				assert.Equal(t, 1, populated)
				return
			}
			if res.Account != nil {
				populated++
			}
			if res.NotFound != nil {
				populated++
			}
			assert.Equal(t, 1, populated)
			assert.Equal(t, tt.wantAccount, res.Account != nil)
			assert.Equal(t, tt.wantNotFound, res.NotFound != nil)
		})
	}
}

func TestFetchUserAccountFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/liff/user", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		respond(http.StatusOK, `{"line_user_id":"U1","display_name":"Nok","ocr_count_session":3,"ocr_limit":20,"ocr_remaining":17,"ocr_count_total":40,"message_count":9,"first_seen_at":"2025-01-01T00:00:00","last_seen_at":"2025-02-01T00:00:00Z"}`)(w, r)
	})

	res, err := c.FetchUser(t.Context(), "tok-123")
	require.NoError(t, err)
	require.NotNil(t, res.Account)
	assert.Equal(t, 17, res.Account.OCRRemaining)
	require.NotNil(t, res.Account.DisplayName)
	assert.Equal(t, "Nok", *res.Account.DisplayName)
	assert.Equal(t, 2025, res.Account.FirstSeenAt.Year())
}

func TestFetchUserNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, time.Second, zerolog.Nop())
	res, err := c.FetchUser(t.Context(), "tok")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "Failed to connect to server", err.Error())
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestUpdateDisplayName(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "/liff/user/display-name", r.URL.Path)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "New Name", body["display_name"])
			respond(http.StatusOK, `{"success":true,"display_name":"New Name","message":"ok"}`)(w, r)
		})
		out, err := c.UpdateDisplayName(t.Context(), "tok", "New Name")
		require.NoError(t, err)
		assert.Equal(t, "New Name", out.DisplayName)
	})

	t.Run("validation detail", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusBadRequest, `{"detail":"Display name too long"}`))
		_, err := c.UpdateDisplayName(t.Context(), "tok", "x")
		require.Error(t, err)
		assert.Equal(t, KindValidation, KindOf(err))
		assert.Equal(t, "Display name too long", err.Error())
	})

	t.Run("validation list detail", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusBadRequest, `{"detail":[{"loc":["body"],"msg":"field required"}]}`))
		_, err := c.UpdateDisplayName(t.Context(), "tok", "x")
		assert.Equal(t, "field required", Message(err))
	})

	t.Run("validation without detail", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusBadRequest, `{}`))
		_, err := c.UpdateDisplayName(t.Context(), "tok", "x")
		assert.Equal(t, MsgInvalidRequest, Message(err))
	})

	t.Run("account missing", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusNotFound, `{"detail":"nope"}`))
		_, err := c.UpdateDisplayName(t.Context(), "tok", "x")
		assert.Equal(t, KindNotFound, KindOf(err))
		assert.Equal(t, MsgUserNotFound, Message(err))
	})

	t.Run("unsuccessful body", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusOK, `{"success":false,"message":"Name not allowed"}`))
		_, err := c.UpdateDisplayName(t.Context(), "tok", "x")
		assert.Equal(t, "Name not allowed", Message(err))
	})
}

func TestCreateCharge(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment/create-charge", r.URL.Path)
		var body map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 50, body["amount_thb"])
		respond(http.StatusOK, `{"charge_id":"ch_1","reference_id":"ref","amount":5000,"pages_to_receive":100,"action_required":"ENCODED_IMAGE","qr_code":"iVBOR","qr_expiry":"2030-01-01T00:00:00Z"}`)(w, r)
	})

	intent, err := c.CreateCharge(t.Context(), "tok", 50)
	require.NoError(t, err)
	assert.Equal(t, "ENCODED_IMAGE", intent.ActionRequired)
	require.NotNil(t, intent.QRCode)
	assert.Equal(t, "iVBOR", *intent.QRCode)
	assert.Nil(t, intent.RedirectURL)
	require.NotNil(t, intent.QRExpiry)
	assert.Equal(t, 2030, intent.QRExpiry.Year())
}

func TestCreateChargeValidation(t *testing.T) {
	c := newTestClient(t, respond(http.StatusBadRequest, `{"detail":"Minimum amount is 10 THB"}`))
	_, err := c.CreateCharge(t.Context(), "tok", 5)
	assert.Equal(t, "Minimum amount is 10 THB", Message(err))
}

func TestPendingPayment(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusOK, `null`))
		p, err := c.PendingPayment(t.Context(), "tok")
		require.NoError(t, err)
		assert.Nil(t, p)
	})
	t.Run("present", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusOK, `{"charge_id":"ch_9","qr_code":"abc","qr_expiry":"2030-01-01T00:00:00Z","pages_to_receive":40}`))
		p, err := c.PendingPayment(t.Context(), "tok")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "ch_9", p.ChargeID)
		assert.Equal(t, 40, p.PagesToReceive)
	})
}

func TestListEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /payment/packages", respond(http.StatusOK, `[{"amount_thb":10,"amount_satang":1000,"pages":20,"label":"Starter"},{"amount_thb":50,"amount_satang":5000,"pages":100,"label":"Plus"}]`))
	mux.HandleFunc("GET /payment/history", respond(http.StatusOK, `[{"charge_id":"a","amount_thb":10,"pages_purchased":20,"status":"SUCCEEDED","created_at":"2025-01-01T00:00:00Z","payment_method":"QR_PROMPT_PAY"}]`))
	mux.HandleFunc("GET /liff/free-claim/status", respond(http.StatusOK, `{"can_claim":true,"pages_available":5,"last_claimed":null,"next_claim_at":null}`))
	mux.HandleFunc("POST /liff/free-claim/claim", respond(http.StatusOK, `{"message":"Claimed 5 pages","can_claim_again_at":"2030-01-02T00:00:00Z"}`))
	c := newTestClient(t, mux.ServeHTTP)

	pkgs, err := c.PaymentPackages(t.Context(), "tok")
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, 100, pkgs[1].Pages)

	hist, err := c.PaymentHistory(t.Context(), "tok")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "SUCCEEDED", hist[0].Status)

	status, err := c.FreeClaimStatus(t.Context(), "tok")
	require.NoError(t, err)
	assert.True(t, status.CanClaim)
	assert.Equal(t, 5, status.PagesAvailable)

	claim, err := c.ClaimFreePages(t.Context(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "Claimed 5 pages", claim.Message)
	require.NotNil(t, claim.CanClaimAgainAt)
}
