package main

import (
	"fmt"
	"os"
)

// contains/indexOf/parseArgs are kept in the teacher's hand-rolled flag
// style (CyberPanther232-goshell/arguments.go): this client has a handful
// of flags and no need for a CLI framework, so none is introduced.
func contains(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func indexOf(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}

func parseArgs(args []string) (map[string]string, error) {
	parsed := make(map[string]string)

	if contains(args, "--help") {
		fmt.Println("tinyssh - a minimal SSH client core")
		fmt.Println("Usage: tinyssh [options]")
		fmt.Println("Options:")
		fmt.Println("  --help                     Show this help message")
		fmt.Println("  --verbose                  Enable debug-level logging")
		fmt.Println("  --config <file>            Specify alternative configuration file")
		fmt.Println("  --host <host-config-name>  Specify host to connect to")
		fmt.Println("  --cmd <command>            Remote command to run (overrides config)")
		fmt.Println("  --list-hosts               List available hosts in configuration")
		fmt.Println("  --generate-config          Generate a sample configuration file")
		os.Exit(0)
	}

	if contains(args, "--verbose") {
		parsed["verbose"] = "true"
	}

	if contains(args, "--generate-config") {
		if err := generateSampleConfig(); err != nil {
			return nil, err
		}
		os.Exit(0)
	}

	if contains(args, "--config") {
		idx := indexOf(args, "--config")
		if idx < 0 || idx+1 >= len(args) {
			return nil, fmt.Errorf("--config requires a value")
		}
		parsed["configurationPath"] = args[idx+1]
	}

	if contains(args, "--host") {
		idx := indexOf(args, "--host")
		if idx < 0 || idx+1 >= len(args) {
			return nil, fmt.Errorf("--host requires a value")
		}
		parsed["host"] = args[idx+1]
	}

	if contains(args, "--cmd") {
		idx := indexOf(args, "--cmd")
		if idx < 0 || idx+1 >= len(args) {
			return nil, fmt.Errorf("--cmd requires a value")
		}
		parsed["cmd"] = args[idx+1]
	}

	if contains(args, "--list-hosts") {
		parsed["listHosts"] = "true"
	}

	return parsed, nil
}

func generateSampleConfig() error {
	const path = "tinyssh.conf"
	if _, err := os.Stat(path); err == nil {
		fmt.Println("Configuration file 'tinyssh.conf' already exists. Aborting generation.")
		return nil
	}

	sample := `# Sample tinyssh configuration file
# Format:
# Host <name>
#   Hostname <address>
#   Port <port>
#   User <username>
#   IdentityFile <path to ed25519 private key>
#   Command <remote command to run>

Host example
  Hostname example.com
  Port 22
  User git
  IdentityFile ~/.ssh/id_ed25519
  Command git-upload-pack '/repo.git'
`
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		return err
	}
	fmt.Println("Sample configuration file 'tinyssh.conf' generated.")
	return nil
}
