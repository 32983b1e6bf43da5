package testhelpers

import (
	"encoding/base64"
	"encoding/json"
)

// GenerateTestJWT creates an unsigned token (alg: none) for use when
// verification is disabled. markers are placed under the "ctx" claim.
func GenerateTestJWT(sub string, markers map[string]string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := map[string]any{"sub": sub, "aud": "ekaya-query"}
	if len(markers) > 0 {
		payload["ctx"] = markers
	}
	data, _ := json.Marshal(payload)

	return header + "." + base64.RawURLEncoding.EncodeToString(data) + "."
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub string, markers map[string]string) string {
	return "Bearer " + GenerateTestJWT(sub, markers)
}
