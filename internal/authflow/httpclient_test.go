package authflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taoo-rewards/internal/models"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/otp/send", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["phone"] == "busy" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"wait","resendIn":42}`))
			return
		}
		_, _ = w.Write([]byte(`{"existing":false,"resendIn":60}`))
	})
	mux.HandleFunc("/api/otp/verify", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["code"] != "1234" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid code"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ticket":"t-1","needsProfile":true}`))
	})
	mux.HandleFunc("/api/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "t-1", body["ticket"])
		if body["firstName"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"first and last name are required"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": "tok",
			"user":  models.User{ID: "u1", FirstName: body["firstName"], IsNewUser: true},
		})
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]any{"user": models.User{ID: "u1", Points: 2950}})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/spin", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["spinId"] == "again" {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"daily spin already used"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"spinId": body["spinId"], "index": 2, "value": 500, "angle": 90, "streak": 1, "points": 2950,
		})
	})
	mux.HandleFunc("/api/receipts", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		raw, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "jpeg-bytes", string(raw))
		_, _ = w.Write([]byte(`{"amount":"45.500","pointsEarned":455,"points":3405}`))
	})
	mux.HandleFunc("/api/tier/upgrade", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{"user": models.User{ID: "u1", Level: models.Tier(body["tier"])}})
	})
	mux.HandleFunc("/api/purchases", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Amount int64 `json:"amount"`
			Months int   `json:"months"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user":        models.User{ID: "u1", UsedThisMonth: body.Amount},
			"installment": map[string]any{"amount": body.Amount, "months": body.Months, "first": 334, "monthly": 333},
		})
	})
	mux.HandleFunc("/api/deals/deal-1/redeem", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{"user": models.User{ID: "u1", Points: 100}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClientFlow(t *testing.T) {
	ctx := context.Background()
	c := NewHTTPClient(fakeAPI(t).URL+"/", nil)

	_, err := c.SendCode(ctx, "busy")
	assert.ErrorIs(t, err, ErrCooldown)

	res, err := c.SendCode(ctx, "+216201234567")
	require.NoError(t, err)
	assert.False(t, res.Existing)

	_, err = c.Register(ctx, "+216201234567", "Amira", "T")
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = c.VerifyCode(ctx, "+216201234567", "0000")
	assert.ErrorIs(t, err, ErrInvalidCode)

	v, err := c.VerifyCode(ctx, "+216201234567", "1234")
	require.NoError(t, err)
	assert.True(t, v.NeedsProfile)

	_, err = c.Register(ctx, "+216201234567", "", "T")
	assert.ErrorIs(t, err, ErrNameRequired)

	u, err := c.Register(ctx, "+216201234567", "Amira", "T")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "tok", c.Token())
}

func TestHTTPClientDeleteAccount(t *testing.T) {
	ctx := context.Background()
	c := NewHTTPClient(fakeAPI(t).URL, nil)

	assert.ErrorIs(t, c.DeleteAccount(ctx), ErrWrongStep)

	_, err := c.VerifyCode(ctx, "+216201234567", "1234")
	require.NoError(t, err)
	_, err = c.Register(ctx, "+216201234567", "Amira", "T")
	require.NoError(t, err)

	require.NoError(t, c.DeleteAccount(ctx))
	assert.Empty(t, c.Token())
}

func TestHTTPClientRewards(t *testing.T) {
	ctx := context.Background()
	c := NewHTTPClient(fakeAPI(t).URL, nil)

	_, err := c.Spin(ctx, "s-1")
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = c.VerifyCode(ctx, "+216201234567", "1234")
	require.NoError(t, err)
	_, err = c.Register(ctx, "+216201234567", "Amira", "T")
	require.NoError(t, err)

	spin, err := c.Spin(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", spin.SpinID)
	assert.Equal(t, int64(500), spin.Value)
	assert.Equal(t, float64(90), spin.Angle)

	_, err = c.Spin(ctx, "again")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "daily spin already used", apiErr.Message)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2950), me.Points)

	scan, err := c.ScanReceipt(ctx, []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "45.500", scan.Amount)
	assert.Equal(t, int64(455), scan.PointsEarned)

	u, err := c.UpgradeTier(ctx, models.TierGold)
	require.NoError(t, err)
	assert.Equal(t, models.TierGold, u.Level)

	u, inst, err := c.Purchase(ctx, 1000, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), u.UsedThisMonth)
	assert.Equal(t, int64(334), inst.First)
	assert.Equal(t, int64(333), inst.Monthly)

	u, err = c.Redeem(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Points)
}
