package driver

import (
	"context"
	"time"

	"polisflow/contract"
)

// Person is the carrier-neutral identity snapshot used for the policyholder
// and for life-insured objects.
type Person struct {
	FirstName  string
	LastName   string
	MiddleName string
	BirthDate  time.Time
	Phone      string
	Email      string
	DocSeries  string
	DocNumber  string
	Address    Address
}

// Address holds the structured address parts carriers receive joined into a
// single line.
type Address struct {
	State     string
	City      string
	Street    string
	House     string
	Block     string
	Apartment string
}

// InsuredObject is one risk in a policy request.
type InsuredObject struct {
	Product contract.Product
	Person  *Person
	Value   map[string]any
}

// PolicyData is the carrier-neutral request both calculate and createPolicy
// accept.
type PolicyData struct {
	ContractID  int64
	ProgramCode string
	OwnerCode   string
	Duration    string
	ActiveFrom  time.Time
	ActiveTo    time.Time
	SignedAt    time.Time
	InsuredSum  float64
	Holder      Person
	Objects     []InsuredObject
	Mortgage    *contract.MortgageOptions
}

// CalculatedResult is the pricing outcome of one calculate call.
type CalculatedResult struct {
	ProgramID       int64
	Duration        string
	InsuredSum      float64
	LifePremium     float64
	PropertyPremium float64
	CalcCoeff       map[string]any
}

// Premium is the total across products, absent components counting as zero.
func (r CalculatedResult) Premium() float64 {
	return r.LifePremium + r.PropertyPremium
}

// CreatedPolicy is the outcome of one createPolicy call.
type CreatedPolicy struct {
	ContractID   int64
	PolicyNumber string
	PremiumSum   float64
}

// PayLink is a payment redirect issued for a draft contract.
type PayLink struct {
	InvoiceNum string
	OrderID    string
	FormURL    string
}

// PrintOptions control policy document rendering.
type PrintOptions struct {
	Sample bool
	Reset  bool
}

// CarrierDriver is the adapter contract every carrier backend implements
// behind the uniform policy lifecycle.
type CarrierDriver interface {
	Calculate(ctx context.Context, data PolicyData) (CalculatedResult, error)
	CreatePolicy(ctx context.Context, data PolicyData) (CreatedPolicy, error)
	GetStatus(ctx context.Context, c *contract.Contract) (string, error)
	GetPayLink(ctx context.Context, c *contract.Contract) (PayLink, error)
	PrintPolicy(ctx context.Context, c *contract.Contract, opts PrintOptions) ([][]byte, error)
	PayAccept(ctx context.Context, c *contract.Contract) error
	SendPolice(ctx context.Context, c *contract.Contract, email string) (bool, error)
}
