package dto

type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type VersionResponse struct {
	Version string `json:"version"`
}

type TrustResponse struct {
	Tenant  string `json:"tenant"`
	Subject string `json:"subject,omitempty"`
}
