package numbering

import (
	"context"
	"fmt"

	"polisflow/transport"
)

// Params select the numbering range a policy number is drawn from.
type Params struct {
	CompanyCode string `json:"companyCode"`
	ProgramCode string `json:"programCode"`
	Count       int    `json:"count"`
}

// Authority hands out policy (BSO) numbers.
type Authority interface {
	GetPolicyNumber(ctx context.Context, params Params) ([]string, error)
}

// Client is the HTTP numbering-authority implementation.
type Client struct {
	base   string
	client *transport.Client
}

// NewClient wires an HTTP-backed numbering authority.
func NewClient(base string, client *transport.Client) *Client {
	return &Client{base: base, client: client}
}

// GetPolicyNumber reserves count policy numbers.
func (c *Client) GetPolicyNumber(ctx context.Context, params Params) ([]string, error) {
	if params.Count <= 0 {
		params.Count = 1
	}

	var resp struct {
		BsoNumbers []string `json:"bsoNumbers"`
	}
	if err := c.client.PostJSON(ctx, "getPolicyNumber", c.base+"/bso/reserve", nil, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.BsoNumbers) == 0 {
		return nil, fmt.Errorf("numbering: authority returned no numbers")
	}
	return resp.BsoNumbers, nil
}
