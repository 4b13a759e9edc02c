package cli

import "fmt"

// ShowHelp displays the help message.
func ShowHelp() {
	fmt.Print(`roverctl: RoverLink command-line tool
Usage:
  roverctl status  [options]
  roverctl send    [options] <command>
  roverctl watch   [options]
  roverctl roster  [list|add|remove|update|clear] [options]
  roverctl console [options]

Commands:
  status     Connect to a robot and print its telemetry snapshot
  send       Send one command to a robot and print the result
  watch      Stream a robot's feedback events until interrupted
  roster     Manage the known-robot roster file
  console    Interactive robot console (TUI)

Common options:
  -robot string    robot id, address, or address:port
  -roster string   path to the roster file (default: user config dir)
  -config string   path to a communication config file
  -timeout dur     command timeout, e.g. 10s
  -json            emit machine-readable JSON
  -mock            talk to a simulated robot instead of real hardware

Options for roster:
  -ip string       robot IP address
  -port int        robot WebSocket port (default 8765)
  -new-ip string   replacement IP address for update

Examples:
  # Check the default robot over its access point
  roverctl status -robot 192.168.4.1

  # Robots in the roster can be addressed by id
  roverctl roster add -ip 192.168.4.23
  roverctl send -robot 23 spin_around

  # Follow feedback while driving the robot elsewhere
  roverctl watch -robot 23

  # Script against a simulated robot
  roverctl send -robot 23 -mock -json wave
`)
}
