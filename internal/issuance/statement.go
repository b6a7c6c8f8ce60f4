package issuance

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/EternisAI/provider-ca/internal/apperr"
	"github.com/EternisAI/provider-ca/internal/operation"
)

var statementTemplate = template.Must(template.New("statement").Parse(`CERTIFICATE APPLICATION STATEMENT

Application:  {{.ID}}
Submitted:    {{.CreatedAt.UTC.Format "2006-01-02 15:04:05 MST"}}
Status:       {{.Status}}

Applicant
  Login:               {{.Applicant.Login}}
  Common name:         {{.Applicant.CommonName}}
{{- with .Applicant.Email}}
  Email:               {{.}}
{{- end}}
{{- with .Applicant.Phone}}
  Phone:               {{.}}
{{- end}}
{{- with .Applicant.Organization}}
  Organization:        {{.}}
{{- end}}
{{- with .Applicant.OrganizationalUnit}}
  Organizational unit: {{.}}
{{- end}}
{{- with .Applicant.Locality}}
  Locality:            {{.}}
{{- end}}
{{- with .Applicant.Country}}
  Country:             {{.}}
{{- end}}
{{with .Result}}
Issued certificate
  Id:          {{.CertificateID}}
  Serial:      {{.Serial}}
  Thumbprint:  {{.Thumbprint}}
{{end}}
I request the issuance of a qualified signature certificate with the data above
and confirm that it is correct.
`))

// Statement renders the applicant statement of an issuance operation as plain text.
func (s *Service) Statement(ctx context.Context, tenant, id string) ([]byte, error) {
	op, err := s.machine.Status(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if op.State == operation.StateFailed || op.State == operation.StateCancelled {
		return nil, apperr.StateConflict(fmt.Sprintf("No statement is available for an application in status %s.", op.State.Public()))
	}

	var buf bytes.Buffer
	err = statementTemplate.Execute(&buf, map[string]any{
		"ID":        op.ID,
		"CreatedAt": op.CreatedAt,
		"Status":    op.State.Public(),
		"Applicant": op.Payload.Issuance.Applicant,
		"Result":    op.Result,
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to render statement: %w", err))
	}
	return buf.Bytes(), nil
}
