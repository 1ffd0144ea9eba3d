package collector

import (
	"encoding/xml"
	"fmt"

	"polisflow/driver"
)

// SOAPInsured is one insured person inside an order registration request.
type SOAPInsured struct {
	Ref       string `xml:"ref,attr"`
	FirstName string `xml:"firstName"`
	LastName  string `xml:"lastName"`
	BirthDate string `xml:"birthDate"`
	Address   string `xml:"address,omitempty"`
}

// SOAPOrder is the RegisterOrder request body of the SOAP carrier.
type SOAPOrder struct {
	XMLName    xml.Name      `xml:"RegisterOrderRequest"`
	RequestID  string        `xml:"requestId"`
	Program    string        `xml:"program"`
	ActiveFrom string        `xml:"activeFrom"`
	ActiveTo   string        `xml:"activeTo"`
	InsuredSum float64       `xml:"insuredSum"`
	Premium    float64       `xml:"premium"`
	Holder     SOAPInsured   `xml:"holder"`
	Insured    []SOAPInsured `xml:"insured>person"`
}

// BuildSOAPOrder translates generic policy data into the SOAP order shape.
// Each insured carries a stable ref the status endpoint echoes back, which
// is what the polling loop correlates carrier contract ids against.
func BuildSOAPOrder(requestID string, data driver.PolicyData, premium float64) SOAPOrder {
	order := SOAPOrder{
		RequestID:  requestID,
		Program:    data.ProgramCode,
		ActiveFrom: data.ActiveFrom.Format(dateLayout),
		ActiveTo:   data.ActiveTo.Format(dateLayout),
		InsuredSum: data.InsuredSum,
		Premium:    premium,
		Holder: SOAPInsured{
			Ref:       "holder",
			FirstName: data.Holder.FirstName,
			LastName:  data.Holder.LastName,
			BirthDate: data.Holder.BirthDate.Format(dateLayout),
			Address:   JoinAddress(data.Holder.Address),
		},
	}
	for i, obj := range data.Objects {
		ins := SOAPInsured{Ref: ObjectRef(i)}
		if obj.Person != nil {
			ins.FirstName = obj.Person.FirstName
			ins.LastName = obj.Person.LastName
			ins.BirthDate = obj.Person.BirthDate.Format(dateLayout)
			ins.Address = JoinAddress(obj.Person.Address)
		}
		order.Insured = append(order.Insured, ins)
	}
	return order
}

// ObjectRef is the correlation ref assigned to the i-th submitted object.
func ObjectRef(i int) string {
	return fmt.Sprintf("obj-%d", i+1)
}

// SOAPCalc is the Calculate request body of the SOAP carrier.
type SOAPCalc struct {
	XMLName    xml.Name      `xml:"CalculateRequest"`
	Program    string        `xml:"program"`
	ActiveFrom string        `xml:"activeFrom"`
	Duration   string        `xml:"duration,omitempty"`
	InsuredSum float64       `xml:"insuredSum"`
	Insured    []SOAPInsured `xml:"insured>person"`
}

// BuildSOAPCalc translates generic policy data into the SOAP calculate shape.
func BuildSOAPCalc(data driver.PolicyData) SOAPCalc {
	calc := SOAPCalc{
		Program:    data.ProgramCode,
		ActiveFrom: data.ActiveFrom.Format(dateLayout),
		Duration:   data.Duration,
		InsuredSum: data.InsuredSum,
	}
	for i, obj := range data.Objects {
		ins := SOAPInsured{Ref: ObjectRef(i)}
		if obj.Person != nil {
			ins.FirstName = obj.Person.FirstName
			ins.LastName = obj.Person.LastName
			ins.BirthDate = obj.Person.BirthDate.Format(dateLayout)
		}
		calc.Insured = append(calc.Insured, ins)
	}
	return calc
}
