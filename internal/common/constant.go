package common

// Refresh token cookie attributes expected from the transport layer. The
// cookie is HttpOnly, Secure and SameSite=Strict.
const (
	RefreshTokenCookieName = "refresh_token"
	RefreshTokenCookiePath = "/api/v1/authentication/refresh-token"
)

// AccessTokenHeaderName carries the bearer access token.
const AccessTokenHeaderName = "Authorization"
