package driver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"polisflow/contract"
	"polisflow/numbering"
	"polisflow/program"
	"polisflow/uwexport"
)

// Service is the orchestration facade callers talk to. It resolves the
// carrier driver behind a program and runs the lifecycle operations against
// it, plus the post-payment steps no single driver owns.
type Service struct {
	Registry  *Registry
	Programs  program.Store
	Contracts contract.Store
	Numbers   numbering.Authority
	Exporter  uwexport.Exporter
	Log       *zap.Logger
	Clock     func() time.Time
}

// Ready reports whether the facade can serve traffic. A service without a
// single registered carrier driver can only reject requests.
func (s *Service) Ready() error {
	if s.Registry == nil || s.Registry.Size() == 0 {
		return NotFound("ready", "no carrier drivers registered")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// resolve finds the program by code and the driver behind its carrier.
func (s *Service) resolve(ctx context.Context, programCode string) (CarrierDriver, program.Program, error) {
	prog, err := s.Programs.GetProgramByCode(ctx, programCode)
	if err != nil {
		return nil, program.Program{}, err
	}
	company, err := s.Programs.GetCompanyByID(ctx, prog.CompanyID)
	if err != nil {
		return nil, program.Program{}, err
	}
	d, err := s.Registry.Resolve(company.Code)
	if err != nil {
		return nil, program.Program{}, err
	}
	return d, prog, nil
}

// resolveContract loads a stored contract and the driver behind its carrier.
func (s *Service) resolveContract(ctx context.Context, contractID int64) (CarrierDriver, contract.Contract, error) {
	c, err := s.Contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, contract.Contract{}, err
	}
	company, err := s.Programs.GetCompanyByID(ctx, c.CompanyID)
	if err != nil {
		return nil, contract.Contract{}, err
	}
	d, err := s.Registry.Resolve(company.Code)
	if err != nil {
		return nil, contract.Contract{}, err
	}
	return d, c, nil
}

// checkStartWindow rejects inverted active ranges and start dates beyond the
// program's selection window, counted from today. Method names the calling
// operation in the raised error.
func (s *Service) checkStartWindow(method string, data PolicyData, prog program.Program) error {
	if data.ActiveFrom.IsZero() {
		return nil
	}
	if !data.ActiveTo.IsZero() && data.ActiveFrom.After(data.ActiveTo) {
		return Validation(method, "activeFrom is after activeTo")
	}

	window := prog.Conditions.MaxStartDateSelection
	if window == "" {
		window = program.DefaultStartWindow
	}
	latest, err := program.AddDuration(s.now(), window)
	if err != nil {
		return fmt.Errorf("driver: program %s start window: %w", prog.Code, err)
	}
	if data.ActiveFrom.After(latest) {
		return Validationf(method, "activeFrom is more than %s ahead", window)
	}
	return nil
}

// Calculate prices a policy request through the carrier behind its program.
func (s *Service) Calculate(ctx context.Context, data PolicyData) (CalculatedResult, error) {
	d, prog, err := s.resolve(ctx, data.ProgramCode)
	if err != nil {
		return CalculatedResult{}, err
	}
	if err := s.checkStartWindow("calculate", data, prog); err != nil {
		return CalculatedResult{}, err
	}
	return d.Calculate(ctx, data)
}

// CreatePolicy runs the full policy lifecycle through the carrier behind the
// requested program.
func (s *Service) CreatePolicy(ctx context.Context, data PolicyData) (CreatedPolicy, error) {
	d, prog, err := s.resolve(ctx, data.ProgramCode)
	if err != nil {
		return CreatedPolicy{}, err
	}
	if err := s.checkStartWindow("createPolicy", data, prog); err != nil {
		return CreatedPolicy{}, err
	}
	return d.CreatePolicy(ctx, data)
}

// GetStatus reconciles a stored contract against its carrier and returns the
// display label.
func (s *Service) GetStatus(ctx context.Context, contractID int64) (string, error) {
	d, c, err := s.resolveContract(ctx, contractID)
	if err != nil {
		return "", err
	}
	return d.GetStatus(ctx, &c)
}

// GetPayLink issues a payment redirect for a stored contract.
func (s *Service) GetPayLink(ctx context.Context, contractID int64) (PayLink, error) {
	d, c, err := s.resolveContract(ctx, contractID)
	if err != nil {
		return PayLink{}, err
	}
	return d.GetPayLink(ctx, &c)
}

// TriggerGetLink refreshes the payment session for a contract, for callers
// that only need the side effect.
func (s *Service) TriggerGetLink(ctx context.Context, contractID int64) error {
	link, err := s.GetPayLink(ctx, contractID)
	if err != nil {
		return err
	}
	s.Log.Info("payment link refreshed",
		zap.Int64("contract_id", contractID),
		zap.String("invoice", link.InvoiceNum))
	return nil
}

// PrintPDF returns the policy documents for a stored contract.
func (s *Service) PrintPDF(ctx context.Context, contractID int64, opts PrintOptions) ([][]byte, error) {
	d, c, err := s.resolveContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return d.PrintPolicy(ctx, &c, opts)
}

// SendMail e-mails the policy documents. With an empty address the
// policyholder's stored e-mail is used.
func (s *Service) SendMail(ctx context.Context, contractID int64, email string) (bool, error) {
	d, c, err := s.resolveContract(ctx, contractID)
	if err != nil {
		return false, err
	}
	if email == "" {
		subject, err := s.Contracts.GetSubject(ctx, contractID)
		if err != nil {
			return false, err
		}
		email = subject.Email
	}
	if email == "" {
		return false, Validation("sendPolice", "contract has no policyholder e-mail")
	}
	return d.SendPolice(ctx, &c, email)
}

// AcceptPayment records a received payment: the carrier is notified, the
// contract confirmed, a policy number reserved when the carrier assigned
// none, and the contract exported to underwriting.
func (s *Service) AcceptPayment(ctx context.Context, contractID int64) error {
	d, c, err := s.resolveContract(ctx, contractID)
	if err != nil {
		return err
	}

	if err := d.PayAccept(ctx, &c); err != nil {
		return err
	}
	if err := s.Contracts.Confirm(ctx, contractID); err != nil {
		return fmt.Errorf("driver: confirm after payment: %w", err)
	}
	c.Status = contract.StatusConfirmed

	if c.Number == "" {
		prog, err := s.Programs.GetProgramByID(ctx, c.ProgramID)
		if err != nil {
			return err
		}
		company, err := s.Programs.GetCompanyByID(ctx, c.CompanyID)
		if err != nil {
			return err
		}
		numbers, err := s.Numbers.GetPolicyNumber(ctx, numbering.Params{
			CompanyCode: company.Code,
			ProgramCode: prog.Code,
			Count:       1,
		})
		if err != nil {
			return fmt.Errorf("driver: reserve policy number: %w", err)
		}
		if err := s.Contracts.SetNumber(ctx, contractID, numbers[0]); err != nil {
			return fmt.Errorf("driver: store policy number: %w", err)
		}
		c.Number = numbers[0]
	}

	if s.Exporter != nil {
		ref, found, err := s.Exporter.GetExternalContractID(ctx, &c)
		if err != nil {
			// The contract is already confirmed and numbered; a failed export
			// is retried out of band, not rolled into this call.
			s.Log.Warn("underwriting export failed",
				zap.Int64("contract_id", contractID),
				zap.Error(err))
			return nil
		}
		if found {
			if err := s.Contracts.SetExternalRef(ctx, contractID, ref); err != nil {
				return fmt.Errorf("driver: store underwriting ref: %w", err)
			}
		}
	}
	return nil
}
