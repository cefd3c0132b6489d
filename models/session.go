package models

// Session is a point-in-time copy of the session store. User is only ever set
// together with Token.
type Session struct {
	Token   string
	User    *User
	Loading bool
}

func (s Session) Authenticated() bool {
	return s.Token != "" && s.User != nil
}

// Role is empty when nobody is signed in.
func (s Session) Role() Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}
