package auth

// Verifier checks bearer tokens handed to the realtime server.
type Verifier struct {
	cfg *JWTConfig
}

// NewVerifier creates a token verifier for the given JWT configuration.
func NewVerifier(cfg *JWTConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify validates the token and returns the authenticated user ID.
func (v *Verifier) Verify(token string) (string, error) {
	claims, err := ValidateToken(v.cfg, token)
	if err != nil {
		return "", err
	}
	return claims.UserID(), nil
}

// Issue mints a token for tooling and tests.
func (v *Verifier) Issue(userID, username string) (string, error) {
	return GenerateToken(v.cfg, userID, username)
}
