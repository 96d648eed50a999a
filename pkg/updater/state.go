package updater

// State is the manager's position in a run.
type State int

const (
	Idle State = iota
	CheckingVersion
	Fetching
	Verifying
	Installing
	Restarting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CheckingVersion:
		return "checking-version"
	case Fetching:
		return "fetching"
	case Verifying:
		return "verifying"
	case Installing:
		return "installing"
	case Restarting:
		return "restarting"
	}
	return "unknown"
}
