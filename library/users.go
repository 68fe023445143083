package library

import "fmt"

// UserDirectory holds the known users in insertion order.
type UserDirectory struct {
	users []*User
}

// AddUser registers a user with the given role. An existing username keeps
// its loans and gets the new role.
func (d *UserDirectory) AddUser(username string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q for user %s", role, username)
	}
	if u, err := d.FindUser(username); err == nil {
		u.Role = role
		return u, nil
	}
	u := &User{Username: username, Role: role}
	d.users = append(d.users, u)
	return u, nil
}

// FindUser returns the user with exactly the given username.
func (d *UserDirectory) FindUser(username string) (*User, error) {
	for _, u := range d.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchUser, username)
}

// Users returns value copies of all users.
func (d *UserDirectory) Users() []User {
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, *u)
	}
	return out
}
