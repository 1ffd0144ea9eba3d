package contract

import "time"

// Status is the local lifecycle state of a contract. Transitions are
// monotonic: draft moves to confirmed exactly once and never back.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
)

// Product tags the kind of risk an insurance object covers.
type Product string

const (
	ProductLife     Product = "life"
	ProductProperty Product = "property"
)

// Contract is the aggregate representing one customer's insurance purchase.
// It is owned by the driver orchestration layer and mutated only through the
// lifecycle operations.
type Contract struct {
	ID            int64
	ProgramID     int64
	CompanyID     int64
	OwnerID       int64
	Number        string
	IntegrationID string
	Status        Status
	ActiveFrom    time.Time
	ActiveTo      time.Time
	SignedAt      time.Time
	Premium       float64
	InsuredSum    float64
	Options       Options
	CalcCoeff     map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Subject is the policyholder snapshot attached to a contract. It is
// immutable once the contract is confirmed.
type Subject struct {
	ID         int64
	ContractID int64
	FirstName  string
	LastName   string
	MiddleName string
	BirthDate  time.Time
	Phone      string
	Email      string
	DocSeries  string
	DocNumber  string
	Login      string
	ExternalID string
}

// InsuranceObject is one insured risk attached to a contract. Carrier-side
// ids are set at most once per successful submission per object.
type InsuranceObject struct {
	ID            int64
	ContractID    int64
	Product       Product
	FirstName     string
	LastName      string
	BirthDate     *time.Time
	Payload       map[string]any
	Number        string
	Premium       float64
	IntegrationID string
}
