package httpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"vorion/internal/domain"
	"vorion/internal/infra/anchor"
)

// Provider posts root commitments to an HTTP transparency ledger. The
// ledger returns an opaque reference which becomes the anchor's external
// ref.
type Provider struct {
	baseURL string
	client  *http.Client
}

func NewProvider(baseURL string, client *http.Client) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("ledger base url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

func (p *Provider) ProviderName() string {
	return "httpledger"
}

type ledgerResponse struct {
	Ref string `json:"ref"`
}

func (p *Provider) Anchor(ctx context.Context, payload anchor.Payload) domain.AnchorReceipt {
	receipt := domain.AnchorReceipt{
		Provider:    p.ProviderName(),
		RootHashHex: payload.RootHashHex,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		receipt.Status = domain.AnchorStatusFailed
		receipt.ErrorCode = domain.AnchorErrorBadConfig
		return receipt
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/anchors", bytes.NewReader(body))
	if err != nil {
		receipt.Status = domain.AnchorStatusFailed
		receipt.ErrorCode = domain.AnchorErrorBadConfig
		return receipt
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		receipt.Status = domain.AnchorStatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			receipt.ErrorCode = domain.AnchorErrorTimeout
		} else {
			receipt.ErrorCode = domain.AnchorErrorNetwork
		}
		return receipt
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		receipt.Status = domain.AnchorStatusFailed
		receipt.ErrorCode = domain.AnchorErrorProvider
		return receipt
	}
	var decoded ledgerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil || decoded.Ref == "" {
		receipt.Status = domain.AnchorStatusFailed
		receipt.ErrorCode = domain.AnchorErrorProvider
		return receipt
	}
	receipt.Status = domain.AnchorStatusAnchored
	receipt.ExternalRef = decoded.Ref
	return receipt
}
