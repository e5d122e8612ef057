package authflow

import (
	"bytes"
	"context"
	"net/http"
	"net/url"

	"taoo-rewards/internal/ledger"
	"taoo-rewards/internal/models"
)

// SpinReply is the body of POST /api/spin.
type SpinReply struct {
	SpinID   string  `json:"spinId"`
	Index    int     `json:"index"`
	Value    int64   `json:"value"`
	Angle    float64 `json:"angle"`
	Streak   int     `json:"streak"`
	Points   int64   `json:"points"`
	Replayed bool    `json:"replayed"`
}

// ReceiptReply is the body of POST /api/receipts.
type ReceiptReply struct {
	Amount       string `json:"amount"`
	PointsEarned int64  `json:"pointsEarned"`
	Points       int64  `json:"points"`
}

type userReply struct {
	User models.User `json:"user"`
}

func (c *HTTPClient) signedIn() error {
	if c.Token() == "" {
		return ErrWrongStep
	}
	return nil
}

// Me fetches the signed-in account as the server holds it.
func (c *HTTPClient) Me(ctx context.Context) (models.User, error) {
	if err := c.signedIn(); err != nil {
		return models.User{}, err
	}
	var out userReply
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return models.User{}, err
	}
	return out.User, nil
}

// Spin plays the daily draw. Resending the same spinID returns the settled
// outcome instead of drawing again.
func (c *HTTPClient) Spin(ctx context.Context, spinID string) (SpinReply, error) {
	if err := c.signedIn(); err != nil {
		return SpinReply{}, err
	}
	var out SpinReply
	err := c.post(ctx, "/api/spin", map[string]string{"spinId": spinID}, &out)
	return out, err
}

func (c *HTTPClient) ScanReceipt(ctx context.Context, image []byte) (ReceiptReply, error) {
	if err := c.signedIn(); err != nil {
		return ReceiptReply{}, err
	}
	var out ReceiptReply
	req := c.request(ctx).SetFileReader("image", "receipt.jpg", bytes.NewReader(image))
	err := c.exec(req, http.MethodPost, "/api/receipts", &out)
	return out, err
}

func (c *HTTPClient) UpgradeTier(ctx context.Context, tier models.Tier) (models.User, error) {
	if err := c.signedIn(); err != nil {
		return models.User{}, err
	}
	var out userReply
	if err := c.post(ctx, "/api/tier/upgrade", map[string]string{"tier": string(tier)}, &out); err != nil {
		return models.User{}, err
	}
	return out.User, nil
}

func (c *HTTPClient) Purchase(ctx context.Context, amount int64, months int) (models.User, ledger.Installment, error) {
	if err := c.signedIn(); err != nil {
		return models.User{}, ledger.Installment{}, err
	}
	var out struct {
		User        models.User        `json:"user"`
		Installment ledger.Installment `json:"installment"`
	}
	err := c.post(ctx, "/api/purchases", map[string]any{"amount": amount, "months": months}, &out)
	if err != nil {
		return models.User{}, ledger.Installment{}, err
	}
	return out.User, out.Installment, nil
}

func (c *HTTPClient) Redeem(ctx context.Context, dealID string) (models.User, error) {
	if err := c.signedIn(); err != nil {
		return models.User{}, err
	}
	var out userReply
	if err := c.post(ctx, "/api/deals/"+url.PathEscape(dealID)+"/redeem", nil, &out); err != nil {
		return models.User{}, err
	}
	return out.User, nil
}
