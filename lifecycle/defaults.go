package lifecycle

import (
	"fmt"
	"time"

	"polisflow/contract"
)

// StatusLabel maps the persisted contract status to the public label.
func StatusLabel(st contract.Status) string {
	switch st {
	case contract.StatusDraft:
		return "Draft"
	case contract.StatusConfirmed:
		return "Confirmed"
	default:
		return "undefined"
	}
}

// InvoiceNumber builds the payment invoice number
// NS{companyId:%03d}{contractId:%06d}/{HHMMSS}. Outside production it is
// prefixed with time()%100 so repeated test runs do not collide on the same
// invoice.
func InvoiceNumber(companyID, contractID int64, now time.Time, production bool) string {
	num := fmt.Sprintf("NS%03d%06d/%s", companyID, contractID, now.Format("150405"))
	if !production {
		num = fmt.Sprintf("%d%s", now.Unix()%100, num)
	}
	return num
}
