package model

// Identity 当前登录用户
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURI string `json:"avatarUri,omitempty"`
}
