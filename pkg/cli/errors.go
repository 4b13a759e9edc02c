package cli

import "errors"

var (
	errUnknownSubcommand = errors.New("unknown subcommand")
	errUnknownRosterOp   = errors.New("unknown roster operation")
	errRobotRequired     = errors.New("a robot must be named with -robot")
	errUnknownRobot      = errors.New("robot is not in the roster")
	errCommandRequired   = errors.New("send requires a command argument")
	errAddressRequired   = errors.New("an address must be given with -ip")
)
