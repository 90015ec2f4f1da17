package bridge

// Role names one of the worker's dedicated channels.
type Role int

const (
	CommandOut Role = iota
	CommandIn
	EventOut
	EventIn
)

// Direction is the flow of bytes on a channel, seen from the host.
type Direction int

const (
	ToWorker Direction = iota
	FromWorker
)

func (d Direction) String() string {
	if d == ToWorker {
		return "out"
	}
	return "in"
}

// firstChannelFD is the child descriptor bound to the first role.
// Descriptors 0-2 are the standard streams.
const firstChannelFD = 3

type roleEntry struct {
	name      string
	direction Direction
}

// roleTable is ordered by child descriptor.
var roleTable = [...]roleEntry{
	CommandOut: {name: "command-out", direction: ToWorker},
	CommandIn:  {name: "command-in", direction: FromWorker},
	EventOut:   {name: "event-out", direction: ToWorker},
	EventIn:    {name: "event-in", direction: FromWorker},
}

// Roles returns every channel role in descriptor order.
func Roles() []Role {
	roles := make([]Role, len(roleTable))
	for i := range roleTable {
		roles[i] = Role(i)
	}
	return roles
}

func (r Role) valid() bool {
	return r >= 0 && int(r) < len(roleTable)
}

func (r Role) String() string {
	if !r.valid() {
		return "unknown"
	}
	return roleTable[r].name
}

// Direction reports which way bytes flow on the role's channel.
func (r Role) Direction() Direction {
	return roleTable[r].direction
}

// FD returns the descriptor number the worker sees for this role.
func (r Role) FD() int {
	return firstChannelFD + int(r)
}
