// Package asyncdriver implements the fire-and-forget carrier archetype:
// API-key auth, an import call correlated by a generated request id, and a
// zip archive of print forms.
package asyncdriver

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
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

const defaultDocMarker = "polis"

// Config carries the carrier endpoint and the API key it authenticates with.
type Config struct {
	Code       string
	BaseURL    string
	APIKey     string
	PayFormURL string
	// DocMarker selects policy documents out of the print archive by
	// substring match on the lowercased file name.
	DocMarker  string
	Production bool
}

func (c Config) marker() string {
	if c.DocMarker != "" {
		return strings.ToLower(c.DocMarker)
	}
	return defaultDocMarker
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

// Driver is the async-import carrier adapter.
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
		// The import is submitted after local persistence and acknowledged
		// asynchronously; getStatus reconciles by request id later.
		After: d.submitImport,
	}
	return d
}

func (d *Driver) headers() map[string]string {
	return map[string]string{"X-Api-Key": d.cfg.APIKey}
}

// Calculate prices the request with a single POST.
func (d *Driver) Calculate(ctx context.Context, data driver.PolicyData) (driver.CalculatedResult, error) {
	var resp struct {
		ProgramID       int64          `json:"programId"`
		Duration        string         `json:"duration"`
		InsuredSum      float64        `json:"insuredSum"`
		LifePremium     float64        `json:"lifePremium"`
		PropertyPremium float64        `json:"propertyPremium"`
		Coefficients    map[string]any `json:"coefficients"`
	}
	payload := collector.BuildRESTPolicy(data)
	if err := d.deps.Client.PostJSON(ctx, "calculate", d.cfg.BaseURL+"/calc", d.headers(), payload, &resp); err != nil {
		return driver.CalculatedResult{}, d.wrap("calculate", err)
	}
	if resp.LifePremium == 0 && resp.PropertyPremium == 0 {
		return driver.CalculatedResult{}, driver.CarrierRejected("calculate", "", "carrier returned zero premium")
	}

	return driver.CalculatedResult{
		ProgramID:       resp.ProgramID,
		Duration:        resp.Duration,
		InsuredSum:      resp.InsuredSum,
		LifePremium:     resp.LifePremium,
		PropertyPremium: resp.PropertyPremium,
		CalcCoeff:       resp.Coefficients,
	}, nil
}

// CreatePolicy runs the shared lifecycle; the carrier import happens in the
// post-persistence hook.
func (d *Driver) CreatePolicy(ctx context.Context, data driver.PolicyData) (driver.CreatedPolicy, error) {
	return d.flow.Run(ctx, data)
}

func (d *Driver) submitImport(ctx context.Context, st *lifecycle.State) error {
	requestID := uuid.NewString()
	payload := collector.BuildAsyncImport(requestID, st.Data, st.Contract.Premium)

	var resp struct {
		Accepted bool   `json:"accepted"`
		Error    string `json:"error"`
	}
	if err := d.deps.Client.PostJSON(ctx, "createPolicy", d.cfg.BaseURL+"/import", d.headers(), payload, &resp); err != nil {
		return d.wrap("createPolicy", err)
	}
	if !resp.Accepted {
		return driver.CarrierRejected("createPolicy", "", resp.Error)
	}

	st.Contract.IntegrationID = requestID
	st.Contract.Options.Poll = &contract.PollCorrelation{RequestID: requestID}
	if err := d.deps.Contracts.Save(ctx, &st.Contract, &st.Subject, st.Objects); err != nil {
		return fmt.Errorf("asyncdriver: store request id: %w", err)
	}
	d.deps.Log.Debug("import accepted by carrier",
		zap.String("carrier", d.cfg.Code),
		zap.String("request_id", requestID))
	return nil
}

// GetStatus reconciles against the carrier by the import request id. A
// confirmed contract never regresses.
func (d *Driver) GetStatus(ctx context.Context, c *contract.Contract) (string, error) {
	if c.Status == contract.StatusConfirmed || c.Options.Poll == nil {
		return lifecycle.StatusLabel(c.Status), nil
	}

	var resp struct {
		Status string `json:"status"`
		Number string `json:"number"`
	}
	url := fmt.Sprintf("%s/import/%s", d.cfg.BaseURL, c.Options.Poll.RequestID)
	body, err := d.deps.Client.Get(ctx, "getStatus", url, d.headers())
	if err != nil {
		return "", d.wrap("getStatus", err)
	}
	if err := decodeJSON(body, &resp); err != nil {
		return "", driver.Transport("getStatus", err)
	}

	switch strings.ToUpper(resp.Status) {
	case "DONE", "ISSUED":
		if resp.Number != "" && c.Number == "" {
			if err := d.deps.Contracts.SetNumber(ctx, c.ID, resp.Number); err != nil {
				return "", fmt.Errorf("asyncdriver: store policy number: %w", err)
			}
			c.Number = resp.Number
		}
		if err := d.deps.Contracts.Confirm(ctx, c.ID); err != nil {
			return "", fmt.Errorf("asyncdriver: confirm after reconcile: %w", err)
		}
		c.Status = contract.StatusConfirmed
		return "Confirmed", nil
	default:
		return lifecycle.StatusLabel(c.Status), nil
	}
}

// GetPayLink builds the payment redirect. This carrier has no payment
// session of its own, so the invoice plus the configured form URL suffice.
func (d *Driver) GetPayLink(ctx context.Context, c *contract.Contract) (driver.PayLink, error) {
	invoice := lifecycle.InvoiceNumber(c.CompanyID, c.ID, d.deps.now(), d.cfg.Production)
	link := driver.PayLink{InvoiceNum: invoice}
	if d.cfg.PayFormURL != "" {
		link.FormURL = fmt.Sprintf("%s?invoice=%s", d.cfg.PayFormURL, invoice)
	}
	return link, nil
}

// PrintPolicy downloads the print archive and keeps the documents whose
// names carry the policy marker. The raw archive is cached under one key so
// repeated print requests hit the carrier at most once and unpack the exact
// document set the first call returned.
func (d *Driver) PrintPolicy(ctx context.Context, c *contract.Contract, opts driver.PrintOptions) ([][]byte, error) {
	key := pdfcache.Key(c.ID, c.Number, opts.Sample)
	if opts.Reset {
		if err := d.deps.PDFs.Drop(key); err != nil {
			return nil, err
		}
	} else if archive, ok := d.deps.PDFs.Get(key); ok {
		docs, err := unpackArchive(archive, d.cfg.marker())
		if err == nil && len(docs) > 0 {
			return docs, nil
		}
		// a corrupt cache entry falls through to a fresh carrier fetch
	}

	url := fmt.Sprintf("%s/import/%s/print?sample=%t", d.cfg.BaseURL, c.IntegrationID, opts.Sample)
	body, err := d.deps.Client.Get(ctx, "printPolicy", url, d.headers())
	if err != nil {
		return nil, d.wrap("printPolicy", err)
	}

	docs, err := unpackArchive(body, d.cfg.marker())
	if err != nil {
		return nil, driver.Transport("printPolicy", err)
	}
	if len(docs) == 0 {
		return nil, driver.CarrierRejected("printPolicy", "",
			fmt.Sprintf("print archive holds no %q documents", d.cfg.marker()))
	}

	if err := d.deps.PDFs.Put(key, body); err != nil {
		return nil, err
	}
	return docs, nil
}

// unpackArchive extracts the marker-matching files from a zip archive.
func unpackArchive(archive []byte, marker string) ([][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open print archive: %w", err)
	}

	var docs [][]byte
	for _, f := range zr.File {
		if !strings.Contains(strings.ToLower(f.Name), marker) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read archive entry %s: %w", f.Name, err)
		}
		docs = append(docs, data)
	}
	return docs, nil
}

// PayAccept asks the carrier to issue the imported policy.
func (d *Driver) PayAccept(ctx context.Context, c *contract.Contract) error {
	if c.IntegrationID == "" {
		return nil
	}
	url := fmt.Sprintf("%s/import/%s/issue", d.cfg.BaseURL, c.IntegrationID)
	if err := d.deps.Client.PostJSON(ctx, "payAccept", url, d.headers(), struct{}{}, nil); err != nil {
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
		return false, fmt.Errorf("asyncdriver: send policy mail: %w", err)
	}
	return true, nil
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode carrier response: %w", err)
	}
	return nil
}

// wrap normalizes transport failures: carrier 4xx responses are explicit
// declines, everything else is a transport fault.
func (d *Driver) wrap(method string, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) && terr.Status >= 400 && terr.Status < 500 {
		return driver.CarrierRejected(method, fmt.Sprintf("%d", terr.Status), terr.Body)
	}
	return driver.Transport(method, err)
}
