package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/google/uuid"
)

type iceRequest struct {
	RequestID string      `json:"requestId"`
	App       appMetadata `json:"app"`
}

type appMetadata struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
}

type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceResponse struct {
	Result int    `json:"result"`
	Msg    string `json:"msg"`
	Data   struct {
		ICEServers []iceServer `json:"iceServers"`
	} `json:"data"`
}

// Client fetches ICE/TURN credentials from the call backend.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates an API client for the credential endpoint at url.
func NewClient(url string) *Client {
	return &Client{url: url, http: &http.Client{Timeout: 10 * time.Second}}
}

// FetchICEServers obtains the ICE servers the caller may use. Every URL of a
// multi-URL server becomes its own entry.
func (c *Client) FetchICEServers(token string) ([]domain.ICEServer, error) {
	req := iceRequest{
		RequestID: uuid.NewString(),
		App:       appMetadata{AppName: "callcore", Version: "1"},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ice request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var iceResp iceResponse
	if err := json.Unmarshal(respBody, &iceResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if iceResp.Result != 0 {
		return nil, fmt.Errorf("API error (result=%d): %s", iceResp.Result, iceResp.Msg)
	}

	var servers []domain.ICEServer
	for _, s := range iceResp.Data.ICEServers {
		for _, u := range s.URLs {
			servers = append(servers, domain.ICEServer{URL: u, Username: s.Username, Credential: s.Credential})
		}
	}
	return servers, nil
}
