// Package restdriver implements the synchronous REST carrier archetype:
// OAuth2 client-credentials auth, single-POST calculate and createPolicy,
// schema-checked responses.
package restdriver

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"polisflow/collector"
	"polisflow/contract"
	"polisflow/driver"
	"polisflow/lifecycle"
	"polisflow/mailer"
	"polisflow/metrics"
	"polisflow/pdfcache"
	"polisflow/program"
	"polisflow/tokencache"
	"polisflow/transport"
	"polisflow/userdir"
)

// Config carries the carrier endpoint and credentials.
type Config struct {
	Code         string
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Production   bool
}

// Deps are the injected collaborators shared with the other drivers.
type Deps struct {
	Client    *transport.Client
	Tokens    *tokencache.Cache
	Programs  program.Store
	Contracts contract.Store
	Users     userdir.Directory
	PDFs      *pdfcache.Cache
	Mail      mailer.Sender
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Clock     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// Driver is the sync-REST carrier adapter.
type Driver struct {
	cfg  Config
	deps Deps
	flow *lifecycle.Flow
}

// New builds the driver and wires its lifecycle flow.
func New(cfg Config, deps Deps) *Driver {
	d := &Driver{cfg: cfg, deps: deps}
	d.flow = &lifecycle.Flow{
		Programs:  deps.Programs,
		Contracts: deps.Contracts,
		Users:     deps.Users,
		Log:       deps.Log,
		Clock:     deps.Clock,
		Price:     d.Calculate,
		// This carrier requires the policy registered before local
		// persistence; rejection aborts the save.
		Before: d.submitPolicy,
	}
	return d
}

type calcResponse struct {
	ProgramID       *int64         `json:"programId"`
	Duration        *string        `json:"duration"`
	InsuredSum      *float64       `json:"insuredSum"`
	LifePremium     *float64       `json:"lifePremium"`
	PropertyPremium *float64       `json:"propertyPremium"`
	Coefficients    map[string]any `json:"coefficients"`
}

// Calculate prices the request with a single POST.
func (d *Driver) Calculate(ctx context.Context, data driver.PolicyData) (driver.CalculatedResult, error) {
	headers, err := d.bearer(ctx)
	if err != nil {
		return driver.CalculatedResult{}, err
	}

	var resp calcResponse
	payload := collector.BuildRESTPolicy(data)
	if err := d.deps.Client.PostJSON(ctx, "calculate", d.cfg.BaseURL+"/v1/policies/calculate", headers, payload, &resp); err != nil {
		return driver.CalculatedResult{}, d.wrap("calculate", err)
	}

	var missing []string
	if resp.ProgramID == nil {
		missing = append(missing, "programId")
	}
	if resp.Duration == nil {
		missing = append(missing, "duration")
	}
	if resp.InsuredSum == nil {
		missing = append(missing, "insuredSum")
	}
	if resp.LifePremium == nil && resp.PropertyPremium == nil {
		missing = append(missing, "lifePremium")
	}
	if len(missing) > 0 {
		return driver.CalculatedResult{}, driver.Validationf("calculate",
			"carrier response missing required fields: %s", strings.Join(missing, ", "))
	}

	result := driver.CalculatedResult{
		ProgramID:  *resp.ProgramID,
		Duration:   *resp.Duration,
		InsuredSum: *resp.InsuredSum,
		CalcCoeff:  resp.Coefficients,
	}
	if resp.LifePremium != nil {
		result.LifePremium = *resp.LifePremium
	}
	if resp.PropertyPremium != nil {
		result.PropertyPremium = *resp.PropertyPremium
	}
	return result, nil
}

// CreatePolicy runs the shared lifecycle; the carrier submission happens in
// the pre-persistence hook.
func (d *Driver) CreatePolicy(ctx context.Context, data driver.PolicyData) (driver.CreatedPolicy, error) {
	return d.flow.Run(ctx, data)
}

func (d *Driver) submitPolicy(ctx context.Context, st *lifecycle.State) error {
	headers, err := d.bearer(ctx)
	if err != nil {
		return err
	}

	payload := collector.BuildRESTPolicy(st.Data)
	var resp struct {
		PolicyID     *string `json:"policyId"`
		PolicyNumber *string `json:"policyNumber"`
	}
	if err := d.deps.Client.PostJSON(ctx, "createPolicy", d.cfg.BaseURL+"/v1/policies", headers, payload, &resp); err != nil {
		return d.wrap("createPolicy", err)
	}
	if resp.PolicyID == nil || resp.PolicyNumber == nil {
		return driver.Validation("createPolicy", "carrier response missing required fields: policyId, policyNumber")
	}

	st.Contract.IntegrationID = *resp.PolicyID
	st.Contract.Number = *resp.PolicyNumber
	d.deps.Log.Debug("policy registered with carrier",
		zap.String("carrier", d.cfg.Code),
		zap.String("policy_number", st.Contract.Number))
	return nil
}

// GetStatus reconciles the local status against the carrier. A confirmed
// contract never regresses.
func (d *Driver) GetStatus(ctx context.Context, c *contract.Contract) (string, error) {
	if c.Status == contract.StatusConfirmed || c.IntegrationID == "" {
		return lifecycle.StatusLabel(c.Status), nil
	}

	headers, err := d.bearer(ctx)
	if err != nil {
		return "", err
	}
	var resp struct {
		Status string `json:"status"`
	}
	url := fmt.Sprintf("%s/v1/policies/%s/status", d.cfg.BaseURL, c.IntegrationID)
	body, err := d.deps.Client.Get(ctx, "getStatus", url, headers)
	if err != nil {
		return "", d.wrap("getStatus", err)
	}
	if err := decodeJSON(body, &resp); err != nil {
		return "", driver.Transport("getStatus", err)
	}

	switch strings.ToUpper(resp.Status) {
	case "ISSUED", "ACTIVE":
		if err := d.deps.Contracts.Confirm(ctx, c.ID); err != nil {
			return "", fmt.Errorf("restdriver: confirm after reconcile: %w", err)
		}
		c.Status = contract.StatusConfirmed
		return "Confirmed", nil
	default:
		return lifecycle.StatusLabel(c.Status), nil
	}
}

// GetPayLink opens a carrier payment session for the draft contract.
func (d *Driver) GetPayLink(ctx context.Context, c *contract.Contract) (driver.PayLink, error) {
	headers, err := d.bearer(ctx)
	if err != nil {
		return driver.PayLink{}, err
	}

	invoice := lifecycle.InvoiceNumber(c.CompanyID, c.ID, d.deps.now(), d.cfg.Production)
	payload := map[string]any{
		"policyId":   c.IntegrationID,
		"invoiceNum": invoice,
		"amount":     c.Premium,
	}
	var resp struct {
		OrderID string `json:"orderId"`
		FormURL string `json:"formUrl"`
	}
	if err := d.deps.Client.PostJSON(ctx, "getPayLink", d.cfg.BaseURL+"/v1/payments", headers, payload, &resp); err != nil {
		return driver.PayLink{}, d.wrap("getPayLink", err)
	}
	return driver.PayLink{InvoiceNum: invoice, OrderID: resp.OrderID, FormURL: resp.FormURL}, nil
}

// PrintPolicy fetches the rendered policy PDF, caching it so repeated print
// requests hit the carrier at most once.
func (d *Driver) PrintPolicy(ctx context.Context, c *contract.Contract, opts driver.PrintOptions) ([][]byte, error) {
	key := pdfcache.Key(c.ID, c.Number, opts.Sample)
	if opts.Reset {
		if err := d.deps.PDFs.Drop(key); err != nil {
			return nil, err
		}
	} else if pdf, ok := d.deps.PDFs.Get(key); ok {
		return [][]byte{pdf}, nil
	}

	headers, err := d.bearer(ctx)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/policies/%s/print?sample=%t", d.cfg.BaseURL, c.IntegrationID, opts.Sample)
	body, err := d.deps.Client.Get(ctx, "printPolicy", url, headers)
	if err != nil {
		return nil, d.wrap("printPolicy", err)
	}

	var resp struct {
		Document string `json:"document"`
	}
	if err := decodeJSON(body, &resp); err != nil {
		return nil, driver.Transport("printPolicy", err)
	}
	pdf, err := base64.StdEncoding.DecodeString(resp.Document)
	if err != nil {
		return nil, driver.Transport("printPolicy", fmt.Errorf("decode document: %w", err))
	}

	if err := d.deps.PDFs.Put(key, pdf); err != nil {
		return nil, err
	}
	return [][]byte{pdf}, nil
}

// PayAccept notifies the carrier that payment was received.
func (d *Driver) PayAccept(ctx context.Context, c *contract.Contract) error {
	if c.IntegrationID == "" {
		return nil
	}
	headers, err := d.bearer(ctx)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/v1/policies/%s/accept", d.cfg.BaseURL, c.IntegrationID)
	if err := d.deps.Client.PostJSON(ctx, "payAccept", url, headers, struct{}{}, nil); err != nil {
		return d.wrap("payAccept", err)
	}
	return nil
}

// SendPolice e-mails the policy documents to the policyholder.
func (d *Driver) SendPolice(ctx context.Context, c *contract.Contract, email string) (bool, error) {
	docs, err := d.PrintPolicy(ctx, c, driver.PrintOptions{})
	if err != nil {
		return false, err
	}
	if err := mailer.SendPolicy(ctx, d.deps.Mail, email, c.Number, docs); err != nil {
		return false, fmt.Errorf("restdriver: send policy mail: %w", err)
	}
	return true, nil
}

// wrap normalizes transport failures: carrier 4xx responses are explicit
// declines, everything else is a transport fault.
func (d *Driver) wrap(method string, err error) error {
	if terr, ok := asTransport(err); ok && terr.Status >= 400 && terr.Status < 500 {
		return driver.CarrierRejected(method, fmt.Sprintf("%d", terr.Status), terr.Body)
	}
	return driver.Transport(method, err)
}
