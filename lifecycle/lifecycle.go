package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"polisflow/contract"
	"polisflow/driver"
	"polisflow/program"
	"polisflow/userdir"
)

// Stage is one step of the policy creation state machine.
type Stage string

const (
	StageStart         Stage = "start"
	StageDataCollected Stage = "data_collected"
	StageValidated     Stage = "validated"
	StagePersisted     Stage = "persisted"
	StageDone          Stage = "done"
	// StageRejected is terminal: a business rule failed, nothing persisted.
	StageRejected Stage = "rejected"
	// StageFailed is terminal: an external call failed mid-flight.
	StageFailed Stage = "failed"
)

// State carries everything collected while one createPolicy call moves
// through the machine. Hooks receive it and may mutate the contract before
// or after persistence.
type State struct {
	Stage    Stage
	Data     driver.PolicyData
	Program  program.Program
	Company  program.Company
	Owner    program.Owner
	Calc     driver.CalculatedResult
	Contract contract.Contract
	Subject  contract.Subject
	Objects  []contract.InsuranceObject
}

// Hook is a carrier extension point around persistence.
type Hook func(ctx context.Context, st *State) error

// Flow is the shared policy creation machine. Concrete drivers configure it
// with their pricing step and pre/post-persistence hooks instead of
// overriding a base class.
type Flow struct {
	Programs  program.Store
	Contracts contract.Store
	Users     userdir.Directory
	Log       *zap.Logger
	Clock     func() time.Time

	// Price is the driver's calculate step, always invoked during data
	// collection so the persisted premium matches what was priced.
	Price func(ctx context.Context, data driver.PolicyData) (driver.CalculatedResult, error)
	// Before runs after validation and before persistence. Carriers that
	// must pre-register a policy abort persistence here on rejection.
	Before Hook
	// After runs once the contract is persisted. Carriers that register
	// orders or child user accounts post-persist hook in here; a carrier
	// rejection triggers a compensating delete of the fresh contract.
	After Hook
}

func (f *Flow) now() time.Time {
	if f.Clock != nil {
		return f.Clock()
	}
	return time.Now()
}

// Run drives one createPolicy call through the machine:
// Start → DataCollected → Validated → [Before] → Persisted → [After] → Done.
func (f *Flow) Run(ctx context.Context, data driver.PolicyData) (driver.CreatedPolicy, error) {
	st := &State{Stage: StageStart, Data: data}

	if err := f.collect(ctx, st); err != nil {
		st.Stage = StageFailed
		return driver.CreatedPolicy{}, err
	}
	st.Stage = StageDataCollected

	if err := f.validate(st); err != nil {
		st.Stage = StageRejected
		return driver.CreatedPolicy{}, err
	}
	if err := f.resetActiveRange(st); err != nil {
		st.Stage = StageRejected
		return driver.CreatedPolicy{}, err
	}
	st.Stage = StageValidated

	if f.Before != nil {
		if err := f.Before(ctx, st); err != nil {
			st.Stage = StageFailed
			return driver.CreatedPolicy{}, err
		}
	}

	if err := f.persist(ctx, st); err != nil {
		st.Stage = StageFailed
		return driver.CreatedPolicy{}, err
	}
	st.Stage = StagePersisted

	if f.After != nil {
		if err := f.After(ctx, st); err != nil {
			st.Stage = StageFailed
			f.compensate(ctx, st, err)
			return driver.CreatedPolicy{}, err
		}
	}

	st.Stage = StageDone
	f.Log.Info("policy created",
		zap.Int64("contract_id", st.Contract.ID),
		zap.String("program", st.Program.Code),
		zap.Float64("premium", st.Contract.Premium))

	return driver.CreatedPolicy{
		ContractID:   st.Contract.ID,
		PolicyNumber: st.Contract.Number,
		PremiumSum:   st.Contract.Premium,
	}, nil
}

// collect derives the active window and signing date, prices the request,
// resolves program/company/owner and links the policyholder to the external
// user directory when not already linked.
func (f *Flow) collect(ctx context.Context, st *State) error {
	prog, err := f.Programs.GetProgramByCode(ctx, st.Data.ProgramCode)
	if err != nil {
		if errors.Is(err, program.ErrProgramNotFound) {
			return driver.NotFound("createPolicy", fmt.Sprintf("program %q", st.Data.ProgramCode))
		}
		return fmt.Errorf("lifecycle: resolve program: %w", err)
	}
	st.Program = prog

	company, err := f.Programs.GetCompanyByID(ctx, prog.CompanyID)
	if err != nil {
		return fmt.Errorf("lifecycle: resolve company: %w", err)
	}
	st.Company = company

	ownerCode := st.Data.OwnerCode
	if ownerCode == "" {
		ownerCode = program.DefaultOwnerCode
	}
	owner, err := f.Programs.GetOwnerByCode(ctx, ownerCode)
	if err != nil {
		return fmt.Errorf("lifecycle: resolve owner: %w", err)
	}
	st.Owner = owner

	now := f.now()
	if st.Data.SignedAt.IsZero() {
		st.Data.SignedAt = now
	}
	if st.Data.ActiveFrom.IsZero() {
		st.Data.ActiveFrom = truncateDate(now).AddDate(0, 0, prog.Conditions.TimeFranchise)
	}

	calc, err := f.Price(ctx, st.Data)
	if err != nil {
		return err
	}
	st.Calc = calc

	st.Subject = contract.Subject{
		FirstName:  st.Data.Holder.FirstName,
		LastName:   st.Data.Holder.LastName,
		MiddleName: st.Data.Holder.MiddleName,
		BirthDate:  st.Data.Holder.BirthDate,
		Phone:      st.Data.Holder.Phone,
		Email:      st.Data.Holder.Email,
		DocSeries:  st.Data.Holder.DocSeries,
		DocNumber:  st.Data.Holder.DocNumber,
	}
	if err := f.linkUser(ctx, st); err != nil {
		return err
	}

	st.Objects = buildObjects(st.Data.Objects, calc)
	return nil
}

// linkUser looks the policyholder up in the external user directory and
// records the link. Idempotent: a subject that already carries a login is
// left alone.
func (f *Flow) linkUser(ctx context.Context, st *State) error {
	if st.Subject.Login != "" {
		return nil
	}
	rec, found, err := f.Users.GetUserData(ctx, userdir.Personal{
		FirstName:  st.Subject.FirstName,
		LastName:   st.Subject.LastName,
		MiddleName: st.Subject.MiddleName,
		BirthDate:  userdir.FormatBirthDate(st.Subject.BirthDate),
		Phone:      st.Subject.Phone,
		Email:      st.Subject.Email,
	})
	if err != nil {
		return fmt.Errorf("lifecycle: user directory lookup: %w", err)
	}
	if found {
		st.Subject.Login = rec.Login
		st.Subject.ExternalID = rec.SubjectID
	}
	return nil
}

// validate applies the program conditions: the time franchise on the start
// date, the offered durations and tariff coverage, age bounds, the mortgagee
// whitelist and the policyholder/insured identity rule.
func (f *Flow) validate(st *State) error {
	cond := st.Program.Conditions
	today := truncateDate(f.now())

	minStart := today.AddDate(0, 0, cond.TimeFranchise)
	if truncateDate(st.Data.ActiveFrom).Before(minStart) {
		return driver.Validationf("createPolicy",
			"cover may start no earlier than %s (time franchise %d days)",
			minStart.Format("2006-01-02"), cond.TimeFranchise)
	}

	duration := st.Calc.Duration
	if duration == "" {
		duration = st.Data.Duration
	}
	if len(cond.AllowedDurations) > 0 && !slices.Contains(cond.AllowedDurations, duration) {
		return driver.Validationf("createPolicy", "duration %q is not offered by the program", duration)
	}
	if len(st.Program.Matrix) > 0 && st.Data.InsuredSum > 0 {
		if _, ok := st.Program.Matrix.Select(duration, st.Data.InsuredSum); !ok {
			return driver.Validationf("createPolicy",
				"no tariff covers duration %q at insured sum %.2f", duration, st.Data.InsuredSum)
		}
	}

	if st.Data.Mortgage != nil && len(cond.MortgageeBanks) > 0 &&
		!slices.Contains(cond.MortgageeBanks, st.Data.Mortgage.Bank) {
		return driver.Validationf("createPolicy",
			"mortgagee bank %q is not accepted by the program", st.Data.Mortgage.Bank)
	}

	if cond.MaxInsuredCount > 0 && countLife(st.Data.Objects) > cond.MaxInsuredCount {
		return driver.Validationf("createPolicy", "program allows at most %d insured", cond.MaxInsuredCount)
	}

	if cond.MaxAge > 0 {
		for _, obj := range st.Data.Objects {
			if obj.Product != contract.ProductLife || obj.Person == nil {
				continue
			}
			age := yearsBetween(obj.Person.BirthDate, st.Data.ActiveFrom)
			if age < cond.MinAge || age > cond.MaxAge {
				return driver.Validationf("createPolicy",
					"insured age %d outside allowed range %d-%d", age, cond.MinAge, cond.MaxAge)
			}
		}
	}

	if cond.InsuredPolicyHolder && cond.MaxInsuredCount == 1 {
		insured := singleLife(st.Data.Objects)
		if insured == nil ||
			insured.FirstName != st.Subject.FirstName ||
			insured.LastName != st.Subject.LastName ||
			!sameDate(insured.BirthDate, st.Subject.BirthDate) {
			return driver.Validation("createPolicy", "insured person must match the policyholder")
		}
	}

	return nil
}

// resetActiveRange derives active_to from active_from plus the tariff
// duration minus one day, overriding any caller-supplied value so the
// persisted window always matches the duration that was priced.
func (f *Flow) resetActiveRange(st *State) error {
	duration := st.Calc.Duration
	if duration == "" {
		duration = st.Data.Duration
	}
	to, err := program.ActiveTo(st.Data.ActiveFrom, duration)
	if err != nil {
		return driver.Validationf("createPolicy", "bad tariff duration %q", duration)
	}
	if !st.Data.ActiveTo.IsZero() && !sameDate(st.Data.ActiveTo, to) {
		f.Log.Debug("overriding caller active_to",
			zap.Time("caller", st.Data.ActiveTo),
			zap.Time("derived", to))
	}
	st.Data.ActiveTo = to
	st.Calc.Duration = duration
	return nil
}

// persist writes the contract, subject and objects in one transaction.
func (f *Flow) persist(ctx context.Context, st *State) error {
	var premium float64
	for _, obj := range st.Objects {
		premium += obj.Premium
	}

	st.Contract.ID = st.Data.ContractID
	st.Contract.ProgramID = st.Program.ID
	st.Contract.CompanyID = st.Company.ID
	st.Contract.OwnerID = st.Owner.ID
	st.Contract.ActiveFrom = st.Data.ActiveFrom
	st.Contract.ActiveTo = st.Data.ActiveTo
	st.Contract.SignedAt = st.Data.SignedAt
	st.Contract.Premium = premium
	st.Contract.InsuredSum = st.Calc.InsuredSum
	st.Contract.CalcCoeff = st.Calc.CalcCoeff
	if st.Contract.Status == "" {
		st.Contract.Status = contract.StatusDraft
	}
	if st.Data.Mortgage != nil {
		st.Contract.Options.Mortgage = st.Data.Mortgage
	}

	if err := f.Contracts.Save(ctx, &st.Contract, &st.Subject, st.Objects); err != nil {
		return fmt.Errorf("lifecycle: persist contract: %w", err)
	}
	return nil
}

// compensate deletes the just-created contract when the carrier explicitly
// declined after local persistence.
func (f *Flow) compensate(ctx context.Context, st *State, cause error) {
	if !driver.IsCarrierRejected(cause) || st.Contract.ID == 0 || st.Data.ContractID != 0 {
		return
	}
	if err := f.Contracts.Delete(ctx, st.Contract.ID); err != nil {
		f.Log.Error("compensating delete failed",
			zap.Int64("contract_id", st.Contract.ID),
			zap.Error(err))
		return
	}
	f.Log.Warn("contract removed after carrier rejection",
		zap.Int64("contract_id", st.Contract.ID),
		zap.Error(cause))
}

// buildObjects turns request objects into persistable ones, spreading each
// product's premium evenly across its objects so the contract premium always
// equals the object sum.
func buildObjects(objects []driver.InsuredObject, calc driver.CalculatedResult) []contract.InsuranceObject {
	lifeCount := countLife(objects)
	propertyCount := len(objects) - lifeCount

	out := make([]contract.InsuranceObject, 0, len(objects))
	for _, obj := range objects {
		co := contract.InsuranceObject{Product: obj.Product, Payload: obj.Value}
		if obj.Person != nil {
			co.FirstName = obj.Person.FirstName
			co.LastName = obj.Person.LastName
			bd := obj.Person.BirthDate
			co.BirthDate = &bd
		}
		switch obj.Product {
		case contract.ProductLife:
			co.Premium = calc.LifePremium / float64(lifeCount)
		case contract.ProductProperty:
			co.Premium = calc.PropertyPremium / float64(propertyCount)
		}
		out = append(out, co)
	}
	return out
}

func countLife(objects []driver.InsuredObject) int {
	n := 0
	for _, obj := range objects {
		if obj.Product == contract.ProductLife {
			n++
		}
	}
	return n
}

func singleLife(objects []driver.InsuredObject) *driver.Person {
	for _, obj := range objects {
		if obj.Product == contract.ProductLife {
			return obj.Person
		}
	}
	return nil
}

func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func yearsBetween(birth, at time.Time) int {
	years := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		years--
	}
	return years
}
