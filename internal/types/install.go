package types

// Install is the credential bookkeeping for one portal installation.
// The call engine never reads it.
type Install struct {
	MemberID         string `json:"memberId" dynamodbav:"MemberID"` // partition key
	Domain           string `json:"domain" dynamodbav:"Domain"`
	AccessToken      string `json:"-" dynamodbav:"AccessToken"`
	RefreshToken     string `json:"-" dynamodbav:"RefreshToken"`
	ApplicationToken string `json:"-" dynamodbav:"ApplicationToken"`
	ExpiresIn        int    `json:"expiresIn" dynamodbav:"ExpiresIn"`     // seconds
	InstalledAt      string `json:"installedAt" dynamodbav:"InstalledAt"` // RFC3339
}
