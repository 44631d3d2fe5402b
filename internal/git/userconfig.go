package git

import (
	"os"
)

// UserInfo is the fallback commit identity.
type UserInfo struct {
	Name  string
	Email string
}

// DetectGitUser detects the commit author from the environment:
// 1. CASKR_GIT_NAME / CASKR_GIT_EMAIL
// 2. GIT_AUTHOR_NAME / GIT_AUTHOR_EMAIL
// 3. placeholder values
func DetectGitUser() UserInfo {
	if name := os.Getenv("CASKR_GIT_NAME"); name != "" {
		email := os.Getenv("CASKR_GIT_EMAIL")
		if email == "" {
			email = "caskr@localhost"
		}
		return UserInfo{Name: name, Email: email}
	}

	if name := os.Getenv("GIT_AUTHOR_NAME"); name != "" {
		email := os.Getenv("GIT_AUTHOR_EMAIL")
		if email == "" {
			email = "git@localhost"
		}
		return UserInfo{Name: name, Email: email}
	}

	return UserInfo{Name: "caskr", Email: "caskr@localhost"}
}
