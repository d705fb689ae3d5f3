package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Role is the platform role of a user profile, one of user, moderator, admin
type Role string

// all supported roles
const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

var roleRanks = map[Role]int{
	RoleUser:      0,
	RoleModerator: 1,
	RoleAdmin:     2,
}

// UnmarshalJSON is a custom JSON unmarshaller
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = Role(s)
	if !r.Valid() {
		return fmt.Errorf("%s is not valid Role", s)
	}
	return nil
}

// Valid returns true if the role is one of the known roles
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns the rank of the role. Unknown roles rank below user.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast returns true if r ranks equal or higher than other
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}
