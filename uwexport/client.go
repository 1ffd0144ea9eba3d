package uwexport

import (
	"context"
	"errors"
	"net/http"

	"polisflow/contract"
	"polisflow/transport"
)

// Exporter pushes confirmed contracts to the underwriting system and
// returns its contract reference.
type Exporter interface {
	GetExternalContractID(ctx context.Context, c *contract.Contract) (string, bool, error)
}

// Client is the HTTP exporter implementation.
type Client struct {
	base   string
	client *transport.Client
}

// NewClient wires an HTTP-backed exporter.
func NewClient(base string, client *transport.Client) *Client {
	return &Client{base: base, client: client}
}

// GetExternalContractID exports the contract and returns the underwriting
// reference, or found=false when the endpoint has none for it.
func (c *Client) GetExternalContractID(ctx context.Context, ct *contract.Contract) (string, bool, error) {
	payload := map[string]any{
		"contractId": ct.ID,
		"number":     ct.Number,
		"premium":    ct.Premium,
		"activeFrom": ct.ActiveFrom.Format("2006-01-02"),
		"activeTo":   ct.ActiveTo.Format("2006-01-02"),
	}

	var resp struct {
		ContractID string `json:"contractId"`
	}
	err := c.client.PostJSON(ctx, "getExternalContractId", c.base+"/contracts/export", nil, payload, &resp)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) && terr.Status == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	if resp.ContractID == "" {
		return "", false, nil
	}
	return resp.ContractID, true, nil
}
