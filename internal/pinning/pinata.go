package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartdevs17/inft-marketplace/internal/models"
)

// DefaultPinataEndpoint is the Pinata JSON pinning API.
const DefaultPinataEndpoint = "https://api.pinata.cloud/pinning/pinJSONToIPFS"

// PinataConfig holds Pinata credentials. JWT takes precedence over the key pair.
type PinataConfig struct {
	Endpoint  string
	JWT       string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// PinataUploader pins metadata through the Pinata HTTP API.
type PinataUploader struct {
	config PinataConfig
	client *http.Client
}

// NewPinataUploader creates a Pinata uploader
func NewPinataUploader(cfg PinataConfig) *PinataUploader {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultPinataEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &PinataUploader{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type pinataRequest struct {
	PinataOptions  pinataOptions         `json:"pinataOptions"`
	PinataMetadata pinataMetadata        `json:"pinataMetadata"`
	PinataContent  *models.AgentMetadata `json:"pinataContent"`
}

type pinataOptions struct {
	CIDVersion int `json:"cidVersion"`
}

type pinataMetadata struct {
	Name      string            `json:"name"`
	KeyValues map[string]string `json:"keyvalues"`
}

type pinataResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Upload pins meta and returns ipfs://<hash>
func (p *PinataUploader) Upload(ctx context.Context, meta *models.AgentMetadata) (*UploadResult, error) {
	body, err := json.Marshal(pinataRequest{
		PinataOptions: pinataOptions{CIDVersion: 1},
		PinataMetadata: pinataMetadata{
			Name: meta.Name + "_metadata.json",
			KeyValues: map[string]string{
				"agentName": meta.Name,
				"creator":   meta.Creator,
				"category":  meta.Category,
				"type":      "agent-metadata",
			},
		},
		PinataContent: meta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.JWT)
	} else {
		req.Header.Set("pinata_api_key", p.config.APIKey)
		req.Header.Set("pinata_secret_api_key", p.config.APISecret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("pinata upload failed: %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out pinataResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode pinata response: %w", err)
	}
	if out.IpfsHash == "" {
		return nil, fmt.Errorf("pinata response carried no hash")
	}
	return &UploadResult{CID: out.IpfsHash, URI: "ipfs://" + out.IpfsHash}, nil
}
