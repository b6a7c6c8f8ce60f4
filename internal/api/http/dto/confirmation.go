package dto

const (
	ConfirmationTypeCode        = "ConfirmationCode"
	ConfirmationTypeExternalApp = "ExternalApp"
)

type ConfirmationData struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type ConfirmationInfo struct {
	OperationID      string             `json:"operationId"`
	ConfirmationType string             `json:"confirmationType"`
	ConfirmationData []ConfirmationData `json:"confirmationData"`
	ExpiresAt        string             `json:"expiresAt"`
}

type ApprovalResponse struct {
	OperationID string `json:"operationId"`
	Approved    bool   `json:"approved"`
}

type ConfirmationOption struct {
	Presentations []string `json:"presentations"`
	RequireCode   bool     `json:"requireCode"`
}

type SupportedOptionsResponse struct {
	Presentations []string `json:"presentations"`
}
