// Package soapdriver implements the SOAP carrier archetype: WS-Security
// UsernameToken authentication, order registration, and bounded polling of
// the status endpoint for carrier-assigned contract ids.
package soapdriver

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"polisflow/collector"
	"polisflow/contract"
	"polisflow/driver"
	"polisflow/lifecycle"
	"polisflow/mailer"
	"polisflow/metrics"
	"polisflow/pdfcache"
	"polisflow/program"
	"polisflow/transport"
	"polisflow/userdir"
)

const (
	defaultIterations   = 5
	defaultPollGrace    = 5 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// Config carries the carrier endpoints, WS-Security credentials and the
// polling budget.
type Config struct {
	Code             string
	Endpoint         string
	StatusEndpoint   string
	Login            string
	Password         string
	PayFormURL       string
	NumberIterations int
	PollGrace        time.Duration
	PollInterval     time.Duration
	Production       bool
}

func (c Config) iterations() int {
	if c.NumberIterations > 0 {
		return c.NumberIterations
	}
	return defaultIterations
}

func (c Config) grace() time.Duration {
	if c.PollGrace > 0 {
		return c.PollGrace
	}
	return defaultPollGrace
}

func (c Config) interval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// Deps are the injected collaborators.
type Deps struct {
	Client    *transport.Client
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

// Driver is the SOAP carrier adapter.
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
		// This carrier is eventually consistent: the order is registered
		// after local persistence and the assigned ids reconciled through
		// the status endpoint.
		After: d.registerAndReconcile,
	}
	return d
}

type calcResponse struct {
	XMLName         xml.Name `xml:"Envelope"`
	ProgramID       int64    `xml:"Body>CalculateResponse>programId"`
	Duration        string   `xml:"Body>CalculateResponse>duration"`
	InsuredSum      float64  `xml:"Body>CalculateResponse>insuredSum"`
	LifePremium     float64  `xml:"Body>CalculateResponse>lifePremium"`
	PropertyPremium float64  `xml:"Body>CalculateResponse>propertyPremium"`
	Fault           string   `xml:"Body>Fault>faultstring"`
}

// Calculate prices the request through the SOAP endpoint.
func (d *Driver) Calculate(ctx context.Context, data driver.PolicyData) (driver.CalculatedResult, error) {
	env, err := d.envelope(collector.BuildSOAPCalc(data), d.deps.now())
	if err != nil {
		return driver.CalculatedResult{}, err
	}
	body, err := d.deps.Client.PostXML(ctx, "calculate", d.cfg.Endpoint, "Calculate", env)
	if err != nil {
		return driver.CalculatedResult{}, driver.Transport("calculate", err)
	}

	var resp calcResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return driver.CalculatedResult{}, driver.Transport("calculate", fmt.Errorf("decode response: %w", err))
	}
	if resp.Fault != "" {
		return driver.CalculatedResult{}, driver.CarrierRejected("calculate", "", resp.Fault)
	}

	return driver.CalculatedResult{
		ProgramID:       resp.ProgramID,
		Duration:        resp.Duration,
		InsuredSum:      resp.InsuredSum,
		LifePremium:     resp.LifePremium,
		PropertyPremium: resp.PropertyPremium,
		CalcCoeff: map[string]any{
			"lifePremium":     resp.LifePremium,
			"propertyPremium": resp.PropertyPremium,
		},
	}, nil
}

// CreatePolicy runs the shared lifecycle; order registration and id
// reconciliation happen in the post-persistence hook.
func (d *Driver) CreatePolicy(ctx context.Context, data driver.PolicyData) (driver.CreatedPolicy, error) {
	return d.flow.Run(ctx, data)
}

type registerResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	OrderID string   `xml:"Body>RegisterOrderResponse>orderId"`
	Fault   string   `xml:"Body>Fault>faultstring"`
}

func (d *Driver) registerAndReconcile(ctx context.Context, st *lifecycle.State) error {
	requestID := uuid.NewString()
	order := collector.BuildSOAPOrder(requestID, st.Data, st.Contract.Premium)
	env, err := d.envelope(order, d.deps.now())
	if err != nil {
		return err
	}

	body, err := d.deps.Client.PostXML(ctx, "createPolicy", d.cfg.Endpoint, "RegisterOrder", env)
	if err != nil {
		return driver.Transport("createPolicy", err)
	}
	var resp registerResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return driver.Transport("createPolicy", fmt.Errorf("decode response: %w", err))
	}
	if resp.Fault != "" {
		return driver.CarrierRejected("createPolicy", "", resp.Fault)
	}
	if resp.OrderID == "" {
		return driver.Transport("createPolicy", fmt.Errorf("carrier returned no order id"))
	}

	st.Contract.IntegrationID = resp.OrderID
	st.Contract.Options.Order = &contract.OrderSession{OrderID: resp.OrderID}
	st.Contract.Options.Poll = &contract.PollCorrelation{RequestID: requestID}

	refs, err := d.awaitContracts(ctx, resp.OrderID, len(st.Objects))
	if err != nil {
		return err
	}
	for i := range st.Objects {
		if ref, ok := refs[collector.ObjectRef(i)]; ok {
			st.Objects[i].IntegrationID = ref.ContractID
			st.Objects[i].Number = ref.Number
			if st.Contract.Number == "" {
				st.Contract.Number = ref.Number
			}
		}
	}

	if err := d.deps.Contracts.Save(ctx, &st.Contract, &st.Subject, st.Objects); err != nil {
		return fmt.Errorf("soapdriver: store carrier refs: %w", err)
	}
	return nil
}

type contractRef struct {
	Ref        string `xml:"ref"`
	ContractID string `xml:"contractId"`
	Number     string `xml:"number"`
}

type contractsResponse struct {
	XMLName   xml.Name      `xml:"Envelope"`
	Contracts []contractRef `xml:"Body>GetContractsResponse>contracts>contract"`
	Fault     string        `xml:"Body>Fault>faultstring"`
}

// awaitContracts polls the status endpoint until the carrier has assigned a
// contract id to every submitted object or the iteration budget runs out:
// an initial grace sleep, then up to the configured number of polls with a
// fixed spacing. Read-after-write against an eventually consistent carrier.
func (d *Driver) awaitContracts(ctx context.Context, orderID string, want int) (map[string]contractRef, error) {
	if err := sleep(ctx, d.cfg.grace()); err != nil {
		return nil, driver.Transport("createPolicy", err)
	}

	iterations := d.cfg.iterations()
	var got int
	for i := 1; i <= iterations; i++ {
		refs, err := d.fetchContracts(ctx, orderID)
		if err != nil {
			return nil, err
		}

		complete := make(map[string]contractRef, len(refs))
		for _, ref := range refs {
			if ref.ContractID != "" {
				complete[ref.Ref] = ref
			}
		}
		got = len(complete)
		if covers(complete, want) {
			d.deps.Metrics.ObservePoll(d.cfg.Code, i)
			return complete, nil
		}

		if i < iterations {
			if err := sleep(ctx, d.cfg.interval()); err != nil {
				return nil, driver.Transport("createPolicy", err)
			}
		}
	}

	d.deps.Metrics.ObservePoll(d.cfg.Code, iterations)
	return nil, driver.CarrierRejected("createPolicy", "",
		fmt.Sprintf("carrier assigned %d of %d contract ids after %d polls", got, want, iterations))
}

func (d *Driver) fetchContracts(ctx context.Context, orderID string) ([]contractRef, error) {
	type getContracts struct {
		XMLName xml.Name `xml:"GetContractsRequest"`
		OrderID string   `xml:"orderId"`
	}
	env, err := d.envelope(getContracts{OrderID: orderID}, d.deps.now())
	if err != nil {
		return nil, err
	}

	body, err := d.deps.Client.PostXML(ctx, "getStatus", d.cfg.StatusEndpoint, "GetContracts", env)
	if err != nil {
		return nil, driver.Transport("getStatus", err)
	}
	var resp contractsResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, driver.Transport("getStatus", fmt.Errorf("decode response: %w", err))
	}
	if resp.Fault != "" {
		return nil, driver.CarrierRejected("getStatus", "", resp.Fault)
	}
	return resp.Contracts, nil
}

func covers(refs map[string]contractRef, want int) bool {
	for i := 0; i < want; i++ {
		if _, ok := refs[collector.ObjectRef(i)]; !ok {
			return false
		}
	}
	return true
}

// GetStatus reconciles against the carrier status endpoint once. A
// confirmed contract never regresses.
func (d *Driver) GetStatus(ctx context.Context, c *contract.Contract) (string, error) {
	if c.Status == contract.StatusConfirmed || c.Options.Order == nil {
		return lifecycle.StatusLabel(c.Status), nil
	}

	objects, err := d.deps.Contracts.GetObjects(ctx, c.ID)
	if err != nil {
		return "", fmt.Errorf("soapdriver: load objects: %w", err)
	}
	refs, err := d.fetchContracts(ctx, c.Options.Order.OrderID)
	if err != nil {
		return "", err
	}

	complete := make(map[string]contractRef, len(refs))
	for _, ref := range refs {
		if ref.ContractID != "" {
			complete[ref.Ref] = ref
		}
	}
	if !covers(complete, len(objects)) {
		return lifecycle.StatusLabel(c.Status), nil
	}

	if err := d.deps.Contracts.Confirm(ctx, c.ID); err != nil {
		return "", fmt.Errorf("soapdriver: confirm after reconcile: %w", err)
	}
	c.Status = contract.StatusConfirmed
	return "Confirmed", nil
}

// GetPayLink builds the payment redirect for the bank form.
func (d *Driver) GetPayLink(ctx context.Context, c *contract.Contract) (driver.PayLink, error) {
	invoice := lifecycle.InvoiceNumber(c.CompanyID, c.ID, d.deps.now(), d.cfg.Production)
	link := driver.PayLink{InvoiceNum: invoice}
	if c.Options.Order != nil {
		link.OrderID = c.Options.Order.OrderID
	}
	if d.cfg.PayFormURL != "" {
		link.FormURL = fmt.Sprintf("%s?invoice=%s", d.cfg.PayFormURL, url.QueryEscape(invoice))
	}
	return link, nil
}

type printResponse struct {
	XMLName  xml.Name `xml:"Envelope"`
	Document string   `xml:"Body>GetPrintFormResponse>document"`
	Fault    string   `xml:"Body>Fault>faultstring"`
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

	type getPrintForm struct {
		XMLName xml.Name `xml:"GetPrintFormRequest"`
		OrderID string   `xml:"orderId"`
		Sample  bool     `xml:"sample"`
	}
	env, err := d.envelope(getPrintForm{OrderID: c.IntegrationID, Sample: opts.Sample}, d.deps.now())
	if err != nil {
		return nil, err
	}
	body, err := d.deps.Client.PostXML(ctx, "printPolicy", d.cfg.Endpoint, "GetPrintForm", env)
	if err != nil {
		return nil, driver.Transport("printPolicy", err)
	}

	var resp printResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, driver.Transport("printPolicy", fmt.Errorf("decode response: %w", err))
	}
	if resp.Fault != "" {
		return nil, driver.CarrierRejected("printPolicy", "", resp.Fault)
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

// PayAccept reports the received payment to the carrier.
func (d *Driver) PayAccept(ctx context.Context, c *contract.Contract) error {
	if c.Options.Order == nil {
		return nil
	}

	type confirmPayment struct {
		XMLName xml.Name `xml:"ConfirmPaymentRequest"`
		OrderID string   `xml:"orderId"`
	}
	env, err := d.envelope(confirmPayment{OrderID: c.Options.Order.OrderID}, d.deps.now())
	if err != nil {
		return err
	}
	body, err := d.deps.Client.PostXML(ctx, "payAccept", d.cfg.Endpoint, "ConfirmPayment", env)
	if err != nil {
		return driver.Transport("payAccept", err)
	}

	var resp struct {
		XMLName xml.Name `xml:"Envelope"`
		Fault   string   `xml:"Body>Fault>faultstring"`
	}
	if err := xml.Unmarshal(body, &resp); err != nil {
		return driver.Transport("payAccept", fmt.Errorf("decode response: %w", err))
	}
	if resp.Fault != "" {
		return driver.CarrierRejected("payAccept", "", resp.Fault)
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
		return false, fmt.Errorf("soapdriver: send policy mail: %w", err)
	}
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
