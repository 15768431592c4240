package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/middleware"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTokenRouter() (*gin.Engine, *MockBookingTokenAPI, middleware.StaffContext) {
	gin.SetMode(gin.TestMode)

	tokens := new(MockBookingTokenAPI)
	staff := middleware.StaffContext{UserID: uuid.New(), CompanyID: uuid.New(), Roles: []string{"agent"}}
	h := NewBookingTokenHandler(tokens, quietLogger())

	r := gin.New()
	r.POST("/api/v1/booking-tokens", withStaff(staff), h.IssueToken)
	r.GET("/api/v1/booking-tokens/:token", h.GetToken)
	r.POST("/api/v1/booking-tokens/:token/exchange", h.ExchangeToken)
	return r, tokens, staff
}

func postJSON(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIssueToken_Success(t *testing.T) {
	r, tokens, staff := setupTokenRouter()
	expires := time.Date(2026, 11, 2, 12, 0, 0, 0, time.UTC)
	token := &models.BookingToken{
		ID:            uuid.New(),
		Token:         "tok_abc",
		CustomerEmail: "jane@example.com",
		PickupDate:    time.Date(2026, 11, 10, 0, 0, 0, 0, time.UTC),
		ReturnDate:    time.Date(2026, 11, 12, 0, 0, 0, 0, time.UTC),
		ExpiresAt:     expires,
	}
	tokens.On("IssueToken", mock.Anything, staff.CompanyID, staff.UserID, mock.Anything).Return(token, nil)

	w := postJSON(r, "/api/v1/booking-tokens", map[string]interface{}{
		"vehicle_id":     uuid.New().String(),
		"customer_email": "jane@example.com",
		"pickup_date":    "2026-11-10",
		"return_date":    "2026-11-12",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Token     models.BookingTokenView `json:"token"`
		ExpiresAt time.Time               `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tok_abc", resp.Token.Token)
	assert.Equal(t, "2026-11-10", resp.Token.PickupDate)
	assert.True(t, expires.Equal(resp.ExpiresAt))
}

func TestGetToken_States(t *testing.T) {
	r, tokens, _ := setupTokenRouter()
	tokens.On("GetToken", mock.Anything, "live").Return(&models.BookingToken{Token: "live"}, nil)
	tokens.On("GetToken", mock.Anything, "old").Return(nil, &models.ExpiredError{Resource: "booking token"})
	tokens.On("GetToken", mock.Anything, "missing").Return(nil, &models.NotFoundError{Resource: "booking token", ID: "missing"})

	tests := []struct {
		token string
		want  int
	}{
		{"live", http.StatusOK},
		{"old", http.StatusGone},
		{"missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/booking-tokens/"+tt.token, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestExchangeToken(t *testing.T) {
	r, tokens, _ := setupTokenRouter()
	booking := &models.Booking{ID: uuid.New(), Status: models.BookingStatusConfirmed}

	tokens.On("ExchangeToken", mock.Anything, "tok_ok",
		mock.MatchedBy(func(req *models.ExchangeBookingTokenRequest) bool { return req.PaymentMethodID == "pm_card_visa" })).
		Return(booking, nil)
	tokens.On("ExchangeToken", mock.Anything, "tok_used", mock.Anything).
		Return(nil, &models.ConflictError{Code: models.CodeTokenAlreadyUsed, Message: "token already used"})
	tokens.On("ExchangeToken", mock.Anything, "tok_declined", mock.Anything).
		Return(nil, &models.GatewayError{Operation: "confirm", Code: "card_declined", Message: "Your card was declined.", Declined: true})

	body := map[string]string{"payment_method_id": "pm_card_visa", "first_name": "Jane", "last_name": "Doe"}

	w := postJSON(r, "/api/v1/booking-tokens/tok_ok/exchange", body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "Booking confirmed")

	w = postJSON(r, "/api/v1/booking-tokens/tok_used/exchange", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.CodeTokenAlreadyUsed, decodeError(t, w).Code)

	w = postJSON(r, "/api/v1/booking-tokens/tok_declined/exchange", body)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestExchangeToken_MissingFields(t *testing.T) {
	r, tokens, _ := setupTokenRouter()

	w := postJSON(r, "/api/v1/booking-tokens/tok_ok/exchange", map[string]string{"first_name": "Jane"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	tokens.AssertNotCalled(t, "ExchangeToken", mock.Anything, mock.Anything, mock.Anything)
}
