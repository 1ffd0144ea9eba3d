package mailer

import (
	"context"
	"fmt"
)

// SendPolicy delivers the rendered policy documents to the policyholder.
// Shared by all carrier drivers.
func SendPolicy(ctx context.Context, s Sender, to, policyNumber string, docs [][]byte) error {
	subject := fmt.Sprintf("Your insurance policy %s", policyNumber)
	body := fmt.Sprintf("Policy %s is attached to this message.", policyNumber)

	attachments := make([]Attachment, 0, len(docs))
	for i, doc := range docs {
		name := "policy.pdf"
		if i > 0 {
			name = fmt.Sprintf("policy_%d.pdf", i+1)
		}
		attachments = append(attachments, Attachment{Name: name, Data: doc})
	}
	return s.Send(ctx, to, subject, body, attachments...)
}
