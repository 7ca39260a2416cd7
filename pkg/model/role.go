package model

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleExpert Role = "expert"
)

func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleExpert
}

// Counterpart returns the other participant role of a call. Unknown roles have none.
func (r Role) Counterpart() Role {
	switch r {
	case RoleFarmer:
		return RoleExpert
	case RoleExpert:
		return RoleFarmer
	default:
		return ""
	}
}

// User is the read-only projection of an account owned by the user service.
type User struct {
	ID   string `json:"id" bson:"_id"`
	Name string `json:"name" bson:"name"`
	Role Role   `json:"role" bson:"role"`
}
