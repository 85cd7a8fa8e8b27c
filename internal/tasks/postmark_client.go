package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const DefaultPostmarkBaseURL = "https://api.postmarkapp.com"

// PostmarkClient implements BounceClient against the Postmark bounces API.
type PostmarkClient struct {
	HTTPClient  *http.Client
	ServerToken string
	BaseURL     string
}

func NewPostmarkClient(serverToken, baseURL string) *PostmarkClient {
	if baseURL == "" {
		baseURL = DefaultPostmarkBaseURL
	}
	return &PostmarkClient{
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		ServerToken: serverToken,
		BaseURL:     baseURL,
	}
}

type postmarkBounce struct {
	ID        int64     `json:"ID"`
	Type      string    `json:"Type"`
	MessageID string    `json:"MessageID"`
	Email     string    `json:"Email"`
	BouncedAt time.Time `json:"BouncedAt"`
	Inactive  bool      `json:"Inactive"`
}

type postmarkBouncesResponse struct {
	TotalCount int              `json:"TotalCount"`
	Bounces    []postmarkBounce `json:"Bounces"`
}

func (c *PostmarkClient) Bounces(ctx context.Context, since time.Time, offset, count int) ([]Bounce, int, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("count", strconv.Itoa(count))
	query.Set("fromdate", since.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/bounces?"+query.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building bounces request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.ServerToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching bounces: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, 0, fmt.Errorf("postmark bounces API returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed postmarkBouncesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("decoding bounces response: %w", err)
	}

	out := make([]Bounce, 0, len(parsed.Bounces))
	for _, b := range parsed.Bounces {
		out = append(out, Bounce{
			MessageID:  b.MessageID,
			Email:      b.Email,
			Type:       b.Type,
			Inactive:   b.Inactive,
			RecordedAt: b.BouncedAt,
		})
	}
	return out, parsed.TotalCount, nil
}
