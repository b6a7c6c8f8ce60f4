package dto

import "time"

type CertificateIssueRequest struct {
	Login              string `json:"login" binding:"required"`
	CommonName         string `json:"commonName" binding:"required"`
	Email              string `json:"email" binding:"omitempty,email"`
	Phone              string `json:"phone"`
	Organization       string `json:"organization"`
	OrganizationalUnit string `json:"organizationalUnit"`
	Locality           string `json:"locality"`
	Country            string `json:"country" binding:"omitempty,len=2,alpha"`
}

type CertificateIssueResponse struct {
	RequestID     string `json:"requestId"`
	Status        string `json:"status"`
	CertificateID string `json:"certificateId,omitempty"`
	Serial        string `json:"serial,omitempty"`
	Thumbprint    string `json:"thumbprint,omitempty"`
}

type RevocationRequest struct {
	CertificateID string `json:"certificateId"`
	Reason        string `json:"reason"`
}

type CertificateInfo struct {
	ID               string     `json:"id"`
	Login            string     `json:"login"`
	Serial           string     `json:"serial"`
	Thumbprint       string     `json:"thumbprint"`
	Subject          string     `json:"subject"`
	Status           string     `json:"status"`
	NotBefore        time.Time  `json:"notBefore"`
	NotAfter         time.Time  `json:"notAfter"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty"`
	RevocationReason string     `json:"revocationReason,omitempty"`
	Certificate      string     `json:"certificate"`
}
