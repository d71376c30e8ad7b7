package staff

import "time"

type Role string

const (
	RoleBarista   Role = "barista"
	RoleManager   Role = "manager"
	RolePurchaser Role = "purchaser"
)

type Staff struct {
	ID        int64
	Name      string
	Role      Role
	Active    bool
	CreatedAt time.Time
}
