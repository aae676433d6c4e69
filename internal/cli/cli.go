// Package cli parses stocklisten command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Command string

const (
	CommandListen  Command = "listen"
	CommandStop    Command = "stop"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandHistory Command = "history"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// DefaultHistoryLimit is the number of runs `history` prints without --limit.
const DefaultHistoryLimit = 10

var validCommands = map[Command]struct{}{
	CommandListen:  {},
	CommandStop:    {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandHistory: {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	Limit      int
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true, Limit: DefaultHistoryLimit}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		case "--limit":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--limit requires a number")
			}
			limit, err := strconv.Atoi(args[i])
			if err != nil || limit <= 0 {
				return Parsed{}, fmt.Errorf("--limit must be a positive integer, got %q", args[i])
			}
			parsed.Limit = limit
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--limit N] <command>

Commands:
  listen    Transcribe the microphone live; analyze mentions on Ctrl+C or stop
  stop      Stop the active listener from another terminal
  status    Print the active listener's state
  devices   List available input devices
  doctor    Run configuration and environment checks
  history   List archived runs
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/stocklisten/config.jsonc)
  --limit N       Number of runs for history (default: %[2]d)
  -h, --help      Show help
  --version       Show version
`, binaryName, DefaultHistoryLimit)
}
