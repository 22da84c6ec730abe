package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard asks for the values needed to reach the control server and
// saves the result.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	for {
		fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
		fmt.Fprintln(out, "║            DataLink - First Run Setup        ║")
		fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
		fmt.Fprintln(out)

		cfg.mu.Lock()
		key := cfg.LinkData.LicenseKey
		if !cfg.LinkData.HasLicenseKey() {
			key = ""
		}

		fmt.Fprintln(out, "── Control Server ──")
		cfg.LinkData.LicenseKey = promptString(reader, out, "License key", key)
		cfg.LinkData.ServerHost = promptString(reader, out, "Server host", cfg.LinkData.ServerHost)
		cfg.LinkData.ServerPort = promptInt(reader, out, "Server port", cfg.LinkData.ServerPort)

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Game Server ──")
		cfg.ServerData.ServerDirectory = promptString(reader, out, "Server directory", cfg.ServerData.ServerDirectory)
		cfg.ServerData.WorldName = promptString(reader, out, "World name", cfg.ServerData.WorldName)
		cfg.ServerData.WatchLogs = promptBool(reader, out, "Watch server log for joins and saves", cfg.ServerData.WatchLogs)

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Local API ──")
		cfg.ApplicationData.Security.APIEnabled = promptBool(reader, out, "Enable local REST API", cfg.ApplicationData.Security.APIEnabled)
		if cfg.ApplicationData.Security.APIEnabled {
			cfg.ApplicationData.Security.APIPort = promptInt(reader, out, "API port", cfg.ApplicationData.Security.APIPort)
		}
		cfg.mu.Unlock()

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			break
		}

		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if !promptBool(reader, out, "Would you like to try again?", false) {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration saved to", cfg.Path())
	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
