package apisdk

// User is the backend's own account record, keyed by the identity user id.
type User struct {
	UserID    string `json:"user_id"`
	UID       string `json:"uid"`
	Email     string `json:"email"`
	Disabled  bool   `json:"disabled"`
	Years     int    `json:"years"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateUserRequest is the body of POST /users.
type CreateUserRequest struct {
	// Years of security experience; the account-setup page asks for it later.
	Years int `json:"years"`
}

// UpdateUserRequest is the body of PUT /users/me. Nil fields are left as is.
type UpdateUserRequest struct {
	Years    *int  `json:"years,omitempty"`
	Disabled *bool `json:"disabled,omitempty"`
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Detail any `json:"detail"`
}
