package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nullstream/tinyssh"
	"github.com/nullstream/tinyssh/credentials"
)

func main() {
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "tinyssh:", err)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if args["verbose"] == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})

	configPath := args["configurationPath"]
	if configPath == "" {
		configPath = "tinyssh.conf"
	}

	configuration, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	if len(configuration) == 0 {
		fmt.Println("No configuration found. Run with --generate-config to create tinyssh.conf.")
		return
	}

	if args["listHosts"] == "true" {
		fmt.Println("Available hosts:")
		for host := range configuration {
			fmt.Println(" -", host)
		}
		return
	}

	hostName := args["host"]
	if hostName == "" {
		fmt.Println("Available hosts:")
		for host := range configuration {
			fmt.Println(" -", host)
		}
		fmt.Print("Select a host: ")
		var choice string
		fmt.Scanln(&choice)
		hostName = strings.TrimSpace(choice)
	}

	selected, ok := configuration[hostName]
	if !ok {
		log.Fatal().Str("host", hostName).Msg("host not found in configuration")
	}

	command := args["cmd"]
	if command == "" {
		command = selected.Command
	}
	if command == "" {
		log.Fatal().Msg("no command to run: set --cmd or a Command line in the host's config block")
	}

	identityPath := expandHome(selected.IdentityFile)
	signer, err := credentials.LoadPrivateKey(identityPath)
	if err != nil {
		log.Fatal().Err(err).Str("identity", identityPath).Msg("failed to load identity")
	}

	addr := net.JoinHostPort(selected.Hostname, strconv.Itoa(selected.Port))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("failed to connect")
	}
	defer conn.Close()

	client, err := tinyssh.New(conn, selected.User, signer)
	if err != nil {
		log.Fatal().Err(err).Msg("handshake or authentication failed")
	}
	log.Info().Str("host", hostName).Msg("connected")

	result, err := client.Run(command)
	if err != nil {
		os.Stdout.Write(result.Stdout)
		os.Stderr.Write(result.Stderr)
		log.Fatal().Err(err).Msg("command failed")
	}

	os.Stdout.Write(result.Stdout)
	os.Stderr.Write(result.Stderr)
	if result.ExitStatus != nil && *result.ExitStatus != 0 {
		os.Exit(int(*result.ExitStatus))
	}
}

// expandHome resolves a leading "~" the way shells do, since the config
// file isn't parsed by a shell and os.ReadFile won't do this for us.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
