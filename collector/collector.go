package collector

import (
	"strings"

	"polisflow/contract"
	"polisflow/driver"
)

const dateLayout = "2006-01-02"

// JoinAddress renders the single-line address carriers receive: the
// non-empty parts in state/city/street/house/block/apartment order, joined
// with ", ".
func JoinAddress(a driver.Address) string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.State, a.City, a.Street, a.House, a.Block, a.Apartment} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// WirePerson is the person shape shared by the JSON carriers.
type WirePerson struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName,omitempty"`
	BirthDate  string `json:"birthDate"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	DocSeries  string `json:"docSeries,omitempty"`
	DocNumber  string `json:"docNumber,omitempty"`
	Address    string `json:"address,omitempty"`
}

func wirePerson(p driver.Person) WirePerson {
	return WirePerson{
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		MiddleName: p.MiddleName,
		BirthDate:  p.BirthDate.Format(dateLayout),
		Phone:      p.Phone,
		Email:      p.Email,
		DocSeries:  p.DocSeries,
		DocNumber:  p.DocNumber,
		Address:    JoinAddress(p.Address),
	}
}

// WireObject is one insured risk on the wire.
type WireObject struct {
	Product string         `json:"product"`
	Person  *WirePerson    `json:"person,omitempty"`
	Value   map[string]any `json:"value,omitempty"`
}

func wireObjects(objects []driver.InsuredObject) []WireObject {
	out := make([]WireObject, 0, len(objects))
	for _, obj := range objects {
		wo := WireObject{Product: string(obj.Product), Value: obj.Value}
		if obj.Person != nil {
			p := wirePerson(*obj.Person)
			wo.Person = &p
		}
		out = append(out, wo)
	}
	return out
}

// WireMortgage carries mortgage-program fields on the wire.
type WireMortgage struct {
	Bank          string  `json:"bank"`
	LoanAgreement string  `json:"loanAgreement"`
	LoanAmount    float64 `json:"loanAmount"`
	LoanDate      string  `json:"loanDate,omitempty"`
}

func wireMortgage(m *contract.MortgageOptions) *WireMortgage {
	if m == nil {
		return nil
	}
	return &WireMortgage{
		Bank:          m.Bank,
		LoanAgreement: m.LoanAgreement,
		LoanAmount:    m.LoanAmount,
		LoanDate:      m.LoanDate,
	}
}

// RESTPolicy is the request body of the synchronous REST carrier.
type RESTPolicy struct {
	Program    string        `json:"program"`
	ActiveFrom string        `json:"activeFrom"`
	ActiveTo   string        `json:"activeTo,omitempty"`
	Duration   string        `json:"duration,omitempty"`
	InsuredSum float64       `json:"insuredSum"`
	Holder     WirePerson    `json:"holder"`
	Objects    []WireObject  `json:"objects"`
	Mortgage   *WireMortgage `json:"mortgage,omitempty"`
}

// BuildRESTPolicy translates generic policy data into the REST carrier
// request shape.
func BuildRESTPolicy(data driver.PolicyData) RESTPolicy {
	p := RESTPolicy{
		Program:    data.ProgramCode,
		ActiveFrom: data.ActiveFrom.Format(dateLayout),
		Duration:   data.Duration,
		InsuredSum: data.InsuredSum,
		Holder:     wirePerson(data.Holder),
		Objects:    wireObjects(data.Objects),
		Mortgage:   wireMortgage(data.Mortgage),
	}
	if !data.ActiveTo.IsZero() {
		p.ActiveTo = data.ActiveTo.Format(dateLayout)
	}
	return p
}

// AsyncImport is the save/import request body of the async carrier.
type AsyncImport struct {
	RequestID  string        `json:"requestId"`
	Program    string        `json:"program"`
	SignedAt   string        `json:"signedAt"`
	ActiveFrom string        `json:"activeFrom"`
	ActiveTo   string        `json:"activeTo"`
	InsuredSum float64       `json:"insuredSum"`
	Premium    float64       `json:"premium"`
	Holder     WirePerson    `json:"holder"`
	Objects    []WireObject  `json:"objects"`
	Mortgage   *WireMortgage `json:"mortgage,omitempty"`
}

// BuildAsyncImport translates generic policy data plus the computed premium
// into the async carrier import shape.
func BuildAsyncImport(requestID string, data driver.PolicyData, premium float64) AsyncImport {
	return AsyncImport{
		RequestID:  requestID,
		Program:    data.ProgramCode,
		SignedAt:   data.SignedAt.Format(dateLayout),
		ActiveFrom: data.ActiveFrom.Format(dateLayout),
		ActiveTo:   data.ActiveTo.Format(dateLayout),
		InsuredSum: data.InsuredSum,
		Premium:    premium,
		Holder:     wirePerson(data.Holder),
		Objects:    wireObjects(data.Objects),
		Mortgage:   wireMortgage(data.Mortgage),
	}
}
