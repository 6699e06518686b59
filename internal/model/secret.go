package model

// Secret keys the backend recognises. Only the FPL keys and AIRSENAL_HOME
// are ever exported to a job's subprocess environment; the admin keys stay
// inside the backend.
const (
	SecretKeyAdminEmail        = "APP_ADMIN_EMAIL"
	SecretKeyAdminPasswordHash = "APP_ADMIN_PASSWORD_HASH"
	SecretKeyFPLTeamID         = "FPL_TEAM_ID"
	SecretKeyFPLLogin          = "FPL_LOGIN"
	SecretKeyFPLPassword       = "FPL_PASSWORD"
	SecretKeyAirsenalHome      = "AIRSENAL_HOME"
)

var AllowedSecretKeys = []string{
	SecretKeyAdminEmail,
	SecretKeyAdminPasswordHash,
	SecretKeyFPLTeamID,
	SecretKeyFPLLogin,
	SecretKeyFPLPassword,
	SecretKeyAirsenalHome,
}

// SubprocessSecretKeys are the keys injected into job environments.
var SubprocessSecretKeys = []string{
	SecretKeyFPLTeamID,
	SecretKeyFPLLogin,
	SecretKeyFPLPassword,
	SecretKeyAirsenalHome,
}

// SecretUpdate represents an upsert of one secret
type SecretUpdate struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// SecretStatus is the masked listing entry; values never leave the store
type SecretStatus struct {
	Key         string `json:"key"`
	IsSet       bool   `json:"is_set"`
	MaskedValue string `json:"masked_value"`
}

// SecretActionResponse acknowledges a secret mutation
type SecretActionResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
}
