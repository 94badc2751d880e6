package dto

type OtpRequestInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OtpVerifyInput struct {
	Username string `json:"username"`
	OtpCode  string `json:"otpCode"`
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshInput struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutInput optionally carries the paired refresh token so it can be
// revoked alongside the bearer access token.
type LogoutInput struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
