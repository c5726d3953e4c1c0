package users

// User is the directory entry shown next to picker and actor ids.
type User struct {
	ID       int64
	Email    string
	Name     string
	IsActive bool
}

// DisplayName prefers the name and falls back to the email.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
