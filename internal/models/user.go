package models

// AuthUser はトークンのクレームから組み立てた認証済みユーザーです。
// リクエストごとに生成され、永続化されません。
type AuthUser struct {
	Sub      string  `json:"sub"`
	Email    *string `json:"email"`
	Username *string `json:"username"`
}

// CognitoClaims はCognitoのIDトークンから読み取るクレームです。
type CognitoClaims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"cognito:username,omitempty"`
}

// ToAuthUser は sub と追加クレームから AuthUser を組み立てます。
// 空文字のクレームは null として扱います。
func (c CognitoClaims) ToAuthUser(sub string) *AuthUser {
	u := &AuthUser{Sub: sub}
	if c.Email != "" {
		email := c.Email
		u.Email = &email
	}
	if c.Username != "" {
		username := c.Username
		u.Username = &username
	}
	return u
}
