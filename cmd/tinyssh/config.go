package main

import (
	"os"
	"strconv"
	"strings"
)

// HostConfig is one named block of the configuration file. Unlike
// CyberPanther232-goshell's HostConfig, there is no KeybasedAuthentication
// toggle or password field: spec.md §4.4 defines only ssh-ed25519
// publickey authentication, so IdentityFile is always required.
type HostConfig struct {
	Host         string
	Hostname     string
	Port         int
	User         string
	IdentityFile string
	Command      string
}

// loadConfig parses the line-oriented Host-block format this client
// inherits from the teacher (grounded on
// CyberPanther232-goshell/load_config.go: loadConfig), generalized to the
// narrower field set above. A missing file is not an error: it yields an
// empty configuration, same as the teacher.
func loadConfig(path string) (map[string]HostConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]HostConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfgs := map[string]HostConfig{}
	var current HostConfig

	commit := func() {
		if strings.TrimSpace(current.Host) != "" {
			cfgs[current.Host] = current
		}
		current = HostConfig{}
	}

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			commit()
			continue
		}

		sp := strings.IndexFunc(line, func(r rune) bool { return r == ' ' || r == '\t' })
		var key, val string
		if sp == -1 {
			key = line
		} else {
			key = strings.TrimSpace(line[:sp])
			val = strings.TrimSpace(line[sp+1:])
		}

		switch key {
		case "Host":
			if strings.TrimSpace(current.Host) != "" {
				commit()
			}
			current.Host = val
		case "Hostname":
			current.Hostname = val
		case "Port":
			p, _ := strconv.Atoi(val)
			current.Port = p
		case "User":
			current.User = val
		case "IdentityFile":
			current.IdentityFile = val
		case "Command":
			current.Command = val
		}
	}
	commit()

	return cfgs, nil
}
