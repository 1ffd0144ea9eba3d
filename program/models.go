package program

// Company identifies one carrier backend.
type Company struct {
	ID   int64
	Code string
	Name string
}

// Owner is the selling organization a contract is booked under.
type Owner struct {
	ID   int64
	Code string
	Name string
}

// DefaultOwnerCode is used when the caller does not name an owner.
const DefaultOwnerCode = "STRAHOVKA"

// Conditions captures the underwriting constraints of a program.
type Conditions struct {
	MinAge                int      `json:"minAge"`
	MaxAge                int      `json:"maxAge"`
	TimeFranchise         int      `json:"timeFranchise"`
	MaxInsuredCount       int      `json:"maxInsuredCount"`
	InsuredPolicyHolder   bool     `json:"insuredPolicyHolder"`
	AllowedDurations      []string `json:"allowedDurations"`
	MaxStartDateSelection string   `json:"maxStartDateSelection"`
	MortgageeBanks        []string `json:"mortgageeBanks"`
}

// Rate is one row of the tariff matrix.
type Rate struct {
	Duration     string  `json:"duration"`
	InsuredSum   float64 `json:"insuredSum"`
	LifeRate     float64 `json:"lifeRate"`
	PropertyRate float64 `json:"propertyRate"`
}

// Matrix is the carrier+program pricing table.
type Matrix []Rate

// Select returns the rate row matching the requested duration with the
// smallest insured sum that still covers the requested sum.
func (m Matrix) Select(duration string, insuredSum float64) (Rate, bool) {
	var (
		best  Rate
		found bool
	)
	for _, r := range m {
		if r.Duration != duration || r.InsuredSum < insuredSum {
			continue
		}
		if !found || r.InsuredSum < best.InsuredSum {
			best = r
			found = true
		}
	}
	return best, found
}

// Program bundles the carrier product metadata drivers price against.
type Program struct {
	ID         int64
	Code       string
	Name       string
	CompanyID  int64
	Conditions Conditions
	Matrix     Matrix
}
