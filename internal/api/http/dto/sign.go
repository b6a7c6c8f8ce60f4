package dto

type SigningDocument struct {
	Name string `json:"name" binding:"required"`
	Data string `json:"data" binding:"required"`
}

type SigningRequest struct {
	Login                 string            `json:"login" binding:"required"`
	CertificateThumbprint string            `json:"certificateThumbprint" binding:"required"`
	DataType              string            `json:"dataType"`
	Documents             []SigningDocument `json:"documents" binding:"required,min=1,dive"`
}

type SigningStatusInfo struct {
	OperationID string `json:"operationId"`
	Status      string `json:"status"`
}

type SigningResult struct {
	DocumentName string `json:"documentName"`
	Signature    string `json:"signature"`
}
