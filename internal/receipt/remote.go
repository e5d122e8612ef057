package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"taoo-rewards/internal/ledger"
)

// RemoteAnalyzer posts the image to an OCR service that answers
// {"total":"45.500"} with the total in dinars.
type RemoteAnalyzer struct {
	url    string
	client *resty.Client
}

func NewRemoteAnalyzer(url, token string, timeout time.Duration) *RemoteAnalyzer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &RemoteAnalyzer{url: url, client: client}
}

type ocrResponse struct {
	Total string `json:"total"`
}

func (a *RemoteAnalyzer) Analyze(ctx context.Context, image []byte) (int64, error) {
	if len(image) == 0 {
		return 0, ErrEmptyImage
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetFileReader("image", "receipt.jpg", bytes.NewReader(image)).
		Post(a.url)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("ocr service returned status %d", resp.StatusCode())
	}

	var out ocrResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return 0, fmt.Errorf("decode ocr response: %w", err)
	}
	return ledger.ParseMillimes(out.Total)
}
