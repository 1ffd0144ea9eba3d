package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"polisflow/contract"
	"polisflow/driver"
	"polisflow/program"
	"polisflow/userdir"
)

type fakeProgramStore struct {
	program program.Program
	company program.Company
	owner   program.Owner
}

func (f *fakeProgramStore) GetProgramByCode(_ context.Context, code string) (program.Program, error) {
	if code != f.program.Code {
		return program.Program{}, program.ErrProgramNotFound
	}
	return f.program, nil
}

func (f *fakeProgramStore) GetProgramByID(_ context.Context, _ int64) (program.Program, error) {
	return f.program, nil
}

func (f *fakeProgramStore) GetCompanyByID(_ context.Context, _ int64) (program.Company, error) {
	return f.company, nil
}

func (f *fakeProgramStore) GetOwnerByCode(_ context.Context, code string) (program.Owner, error) {
	if code != f.owner.Code {
		return program.Owner{}, program.ErrOwnerNotFound
	}
	return f.owner, nil
}

type fakeContractStore struct {
	saveCalls int
	saved     *contract.Contract
	subject   *contract.Subject
	objects   []contract.InsuranceObject
	deleted   []int64
	saveErr   error
}

func (f *fakeContractStore) Save(_ context.Context, c *contract.Contract, s *contract.Subject, objs []contract.InsuranceObject) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saveCalls++
	if c.ID == 0 {
		c.ID = 101
	}
	cp := *c
	f.saved = &cp
	if s != nil {
		sp := *s
		f.subject = &sp
	}
	f.objects = append([]contract.InsuranceObject(nil), objs...)
	return nil
}

func (f *fakeContractStore) GetByID(_ context.Context, _ int64) (contract.Contract, error) {
	if f.saved == nil {
		return contract.Contract{}, contract.ErrNotFound
	}
	return *f.saved, nil
}

func (f *fakeContractStore) GetSubject(_ context.Context, _ int64) (contract.Subject, error) {
	if f.subject == nil {
		return contract.Subject{}, contract.ErrNotFound
	}
	return *f.subject, nil
}

func (f *fakeContractStore) GetObjects(_ context.Context, _ int64) ([]contract.InsuranceObject, error) {
	return f.objects, nil
}

func (f *fakeContractStore) Confirm(_ context.Context, _ int64) error { return nil }

func (f *fakeContractStore) Delete(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeContractStore) SetNumber(_ context.Context, _ int64, _ string) error { return nil }

func (f *fakeContractStore) SetExternalRef(_ context.Context, _ int64, _ string) error { return nil }

type fakeDirectory struct {
	rec   userdir.UserRecord
	found bool
	err   error
}

func (f *fakeDirectory) GetUserData(_ context.Context, _ userdir.Personal) (userdir.UserRecord, bool, error) {
	return f.rec, f.found, f.err
}

var testClock = func() time.Time {
	return time.Date(2024, 2, 27, 10, 0, 0, 0, time.UTC)
}

func testProgram(cond program.Conditions) program.Program {
	return program.Program{ID: 7, Code: "LIFE1", CompanyID: 3, Conditions: cond}
}

func newFlow(programs *fakeProgramStore, contracts *fakeContractStore) *Flow {
	return &Flow{
		Programs:  programs,
		Contracts: contracts,
		Users:     &fakeDirectory{rec: userdir.UserRecord{Login: "anna", SubjectID: "u-9"}, found: true},
		Log:       zap.NewNop(),
		Clock:     testClock,
		Price: func(_ context.Context, data driver.PolicyData) (driver.CalculatedResult, error) {
			return driver.CalculatedResult{
				ProgramID:   7,
				Duration:    "1m",
				InsuredSum:  data.InsuredSum,
				LifePremium: 1200,
			}, nil
		},
	}
}

func holder() driver.Person {
	return driver.Person{
		FirstName: "Anna",
		LastName:  "Schmidt",
		BirthDate: time.Date(1990, 5, 2, 0, 0, 0, 0, time.UTC),
		Email:     "anna@example.com",
	}
}

func lifeData() driver.PolicyData {
	h := holder()
	return driver.PolicyData{
		ProgramCode: "LIFE1",
		OwnerCode:   "STRAHOVKA",
		InsuredSum:  500000,
		Holder:      h,
		Objects: []driver.InsuredObject{
			{Product: contract.ProductLife, Person: &h},
		},
	}
}

func TestRunHappyPath(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{InsuredPolicyHolder: true, MaxInsuredCount: 1}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)

	created, err := flow.Run(context.Background(), lifeData())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if created.ContractID != 101 {
		t.Fatalf("expected contract id 101, got %d", created.ContractID)
	}
	if created.PremiumSum != 1200 {
		t.Fatalf("expected premium 1200, got %v", created.PremiumSum)
	}
	if contracts.saved.ProgramID != 7 || contracts.saved.CompanyID != 3 || contracts.saved.OwnerID != 5 {
		t.Fatalf("unexpected references: %+v", contracts.saved)
	}
	if contracts.subject.Login != "anna" || contracts.subject.ExternalID != "u-9" {
		t.Fatalf("subject not linked to directory: %+v", contracts.subject)
	}

	// no franchise: cover starts today and runs one tariff month inclusive
	wantFrom := time.Date(2024, 2, 27, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2024, 3, 26, 0, 0, 0, 0, time.UTC)
	if !contracts.saved.ActiveFrom.Equal(wantFrom) || !contracts.saved.ActiveTo.Equal(wantTo) {
		t.Fatalf("active range %v..%v, want %v..%v",
			contracts.saved.ActiveFrom, contracts.saved.ActiveTo, wantFrom, wantTo)
	}
}

func TestRunTimeFranchiseDefaultsStart(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{TimeFranchise: 3}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)

	if _, err := flow.Run(context.Background(), lifeData()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !contracts.saved.ActiveFrom.Equal(want) {
		t.Fatalf("expected franchise start %v, got %v", want, contracts.saved.ActiveFrom)
	}
}

func TestRunTimeFranchiseRejectsEarlyStart(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{TimeFranchise: 3}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)

	data := lifeData()
	// franchise 3 from 2024-02-27 puts the earliest start at 2024-03-01,
	// even though the requested date is later the same day
	data.ActiveFrom = time.Date(2024, 2, 28, 23, 0, 0, 0, time.UTC)

	_, err := flow.Run(context.Background(), data)
	if !driver.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if contracts.saveCalls != 0 {
		t.Fatalf("rejected request must not persist")
	}
}

func TestRunOverridesCallerActiveTo(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)

	data := lifeData()
	data.ActiveFrom = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	data.ActiveTo = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := flow.Run(context.Background(), data); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	if !contracts.saved.ActiveTo.Equal(want) {
		t.Fatalf("expected derived active_to %v, got %v", want, contracts.saved.ActiveTo)
	}
}

func TestRunIdentityRule(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{InsuredPolicyHolder: true, MaxInsuredCount: 1}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)

	data := lifeData()
	other := holder()
	other.FirstName = "Boris"
	data.Objects = []driver.InsuredObject{{Product: contract.ProductLife, Person: &other}}

	_, err := flow.Run(context.Background(), data)
	if !driver.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunAgeBounds(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{MinAge: 18, MaxAge: 65}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)

	data := lifeData()
	old := holder()
	old.BirthDate = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)
	data.Objects = []driver.InsuredObject{{Product: contract.ProductLife, Person: &old}}

	_, err := flow.Run(context.Background(), data)
	if !driver.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunRejectsDurationOutsideProgram(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{AllowedDurations: []string{"1y", "2y"}}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)

	// the priced duration is 1m, which the program does not offer
	_, err := flow.Run(context.Background(), lifeData())
	if !driver.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if contracts.saveCalls != 0 {
		t.Fatal("rejected duration must not persist")
	}
}

func TestRunRejectsSumWithoutTariffRow(t *testing.T) {
	prog := testProgram(program.Conditions{})
	prog.Matrix = program.Matrix{
		{Duration: "1m", InsuredSum: 1000000, LifeRate: 0.002},
	}
	programs := &fakeProgramStore{
		program: prog,
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)

	data := lifeData()
	data.InsuredSum = 500000
	if _, err := flow.Run(context.Background(), data); err != nil {
		t.Fatalf("covered sum rejected: %v", err)
	}

	data.InsuredSum = 2000000
	_, err := flow.Run(context.Background(), data)
	if !driver.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunRejectsUnknownMortgageeBank(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{MortgageeBanks: []string{"VTB", "DOMRF"}}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)

	data := lifeData()
	data.Mortgage = &contract.MortgageOptions{Bank: "SBER", LoanAgreement: "L-1"}
	_, err := flow.Run(context.Background(), data)
	if !driver.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	data.Mortgage.Bank = "VTB"
	if _, err := flow.Run(context.Background(), data); err != nil {
		t.Fatalf("whitelisted bank rejected: %v", err)
	}
	if contracts.saved.Options.Mortgage == nil || contracts.saved.Options.Mortgage.Bank != "VTB" {
		t.Fatalf("mortgage options not persisted: %+v", contracts.saved.Options)
	}
}

func TestRunBeforeHookAbortsPersist(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)
	flow.Before = func(_ context.Context, _ *State) error {
		return driver.CarrierRejected("createPolicy", "422", "underwriting declined")
	}

	_, err := flow.Run(context.Background(), lifeData())
	if !driver.IsCarrierRejected(err) {
		t.Fatalf("expected carrier rejection, got %v", err)
	}
	if contracts.saveCalls != 0 {
		t.Fatalf("pre-persist rejection must not persist")
	}
}

func TestRunAfterHookCompensates(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)
	flow.After = func(_ context.Context, _ *State) error {
		return driver.CarrierRejected("createPolicy", "", "order refused")
	}

	_, err := flow.Run(context.Background(), lifeData())
	if !driver.IsCarrierRejected(err) {
		t.Fatalf("expected carrier rejection, got %v", err)
	}
	if len(contracts.deleted) != 1 || contracts.deleted[0] != 101 {
		t.Fatalf("expected compensating delete of contract 101, got %v", contracts.deleted)
	}
}

func TestRunAfterHookTransportErrorKeepsContract(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)
	flow.After = func(_ context.Context, _ *State) error {
		return driver.Transport("createPolicy", errors.New("timeout"))
	}

	_, err := flow.Run(context.Background(), lifeData())
	if err == nil {
		t.Fatal("expected error")
	}
	// the carrier may have registered the order; keep the contract for
	// reconciliation through getStatus
	if len(contracts.deleted) != 0 {
		t.Fatalf("transport failure must not delete, got %v", contracts.deleted)
	}
}

func TestRunSplitsPremiumAcrossObjects(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	contracts := &fakeContractStore{}
	flow := newFlow(programs, contracts)
	flow.Price = func(_ context.Context, data driver.PolicyData) (driver.CalculatedResult, error) {
		return driver.CalculatedResult{
			Duration:        "1y",
			InsuredSum:      data.InsuredSum,
			LifePremium:     1000,
			PropertyPremium: 300,
		}, nil
	}

	h := holder()
	second := holder()
	second.FirstName = "Igor"
	data := lifeData()
	data.Objects = []driver.InsuredObject{
		{Product: contract.ProductLife, Person: &h},
		{Product: contract.ProductLife, Person: &second},
		{Product: contract.ProductProperty, Value: map[string]any{"address": "Main St 1"}},
	}

	created, err := flow.Run(context.Background(), data)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if created.PremiumSum != 1300 {
		t.Fatalf("expected total premium 1300, got %v", created.PremiumSum)
	}
	if contracts.objects[0].Premium != 500 || contracts.objects[1].Premium != 500 {
		t.Fatalf("life premium not split evenly: %+v", contracts.objects)
	}
	if contracts.objects[2].Premium != 300 {
		t.Fatalf("property premium %v, want 300", contracts.objects[2].Premium)
	}
}

func TestRunUnknownProgram(t *testing.T) {
	programs := &fakeProgramStore{
		program: testProgram(program.Conditions{}),
		company: program.Company{ID: 3, Code: "RESTCO"},
		owner:   program.Owner{ID: 5, Code: "STRAHOVKA"},
	}
	flow := newFlow(programs, &fakeContractStore{})

	data := lifeData()
	data.ProgramCode = "NOPE"
	_, err := flow.Run(context.Background(), data)
	if !driver.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestInvoiceNumber(t *testing.T) {
	now := time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC)

	prod := InvoiceNumber(3, 42, now, true)
	if prod != "NS003000042/150405" {
		t.Fatalf("unexpected production invoice: %s", prod)
	}

	test := InvoiceNumber(3, 42, now, false)
	want := fmt.Sprintf("%d%s", now.Unix()%100, prod)
	if test != want {
		t.Fatalf("unexpected test invoice: %s, want %s", test, want)
	}
}

func TestStatusLabel(t *testing.T) {
	if got := StatusLabel(contract.StatusDraft); got != "Draft" {
		t.Fatalf("draft label %q", got)
	}
	if got := StatusLabel(contract.StatusConfirmed); got != "Confirmed" {
		t.Fatalf("confirmed label %q", got)
	}
	if got := StatusLabel(contract.Status("weird")); got != "undefined" {
		t.Fatalf("fallback label %q", got)
	}
}
