// basenode runs a simulated sensor-network base node on a host.
//
// Usage:
//
//	basenode run      boot the node and run its main loop
//	basenode inspect  print the persisted config and staged image
//	basenode ota-send push a firmware image to a node over the air
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"basenode/cmd/edit"
	"basenode/cmd/inspect"
	"basenode/cmd/otasend"
	"basenode/cmd/run"
)

const (
	defaultSystemPath = "/etc/basenode/profile.toml"
	defaultLocalPath  = "profile.toml"
	version           = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	flags, args := parseFlags(os.Args[1:])

	configPath := flags["config"]
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "run":
		err = run.Run(configPath, run.Options{Script: flags["script"], Version: version})
	case "inspect":
		opts := inspect.Options{}
		if opts.FlashAddr, opts.FlashLen, err = parseWindow(flags["flash"]); err == nil {
			err = inspect.Run(configPath, opts)
		}
	case "ota-send":
		if len(args) < 2 {
			err = fmt.Errorf("ota-send needs an image path")
			break
		}
		var target uint64
		if t := flags["target"]; t != "" {
			if target, err = strconv.ParseUint(t, 10, 8); err != nil {
				err = fmt.Errorf("invalid --target %q: %w", t, err)
				break
			}
		}
		err = otasend.Run(configPath, otasend.Options{Image: args[1], Target: uint8(target)})
	case "edit":
		err = edit.EditConfig(configPath)
	case "version":
		fmt.Printf("basenode v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags pulls --name value and --name=value pairs out of args.
func parseFlags(args []string) (map[string]string, []string) {
	flags := map[string]string{}
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || arg == "--help" {
			rest = append(rest, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if k, v, ok := strings.Cut(name, "="); ok {
			flags[k] = v
			continue
		}
		if i+1 < len(args) {
			flags[name] = args[i+1]
			i++
		}
	}
	return flags, rest
}

// parseWindow parses "addr:len" with either part in decimal or 0x hex.
func parseWindow(s string) (uint32, int, error) {
	if s == "" {
		return 0, 0, nil
	}
	a, l, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid --flash %q, want addr:len", s)
	}
	addr, err := strconv.ParseUint(a, 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid flash address %q: %w", a, err)
	}
	n, err := strconv.ParseUint(l, 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid flash length %q: %w", l, err)
	}
	return uint32(addr), int(n), nil
}

func printUsage() {
	fmt.Printf(`basenode v%s — simulated sensor-network base node

Usage:
  basenode <command> [--config <path>] [options]

Commands:
  run                 Boot the node and run its main loop
  inspect             Print the persisted config and staged OTA image
  ota-send <image>    Stream a firmware image to a node over the air
  edit                Edit the build profile in your system editor
  version             Print version information
  help                Show this help message

Options:
  --config <path>     Path to profile (default: looks for ./profile.toml, then %s)
  --script <bytes>    run: feed these bytes to the console instead of the terminal
  --flash <addr:len>  inspect: hex dump a flash window, e.g. 0x0:64
  --target <id>       ota-send: receiving node id (default: the profile's node id)

Examples:
  basenode run                          # Boot with the default profile
  basenode run --script i               # Boot and print the flash device id
  basenode inspect --flash 0:32         # Show config and the OTA header
  basenode ota-send firmware.bin        # Update the node over the air

`, version, defaultSystemPath)
}
