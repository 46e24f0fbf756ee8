package validation

import (
	"fmt"
	"net"
	"strings"
)

const maxNicknameLength = 30

// ValidateNetworkConfig validates one network of the bot configuration
func ValidateNetworkConfig(name, host string, port int, nickname, username string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("network name is required")
	}
	if err := ValidateNickname(nickname); err != nil {
		return err
	}
	if strings.ContainsAny(username, " \x00\r\n@") {
		return fmt.Errorf("username contains invalid characters")
	}
	if err := ValidateServerAddress(host, port); err != nil {
		return err
	}
	return nil
}

// ValidateNickname validates an IRC nickname
func ValidateNickname(nick string) error {
	if nick == "" {
		return fmt.Errorf("nickname is required")
	}
	if len(nick) > maxNicknameLength {
		return fmt.Errorf("nickname too long (max %d characters)", maxNicknameLength)
	}
	// Nicknames must not start with a digit or '-'
	if (nick[0] >= '0' && nick[0] <= '9') || nick[0] == '-' {
		return fmt.Errorf("nickname must not start with a digit or '-'")
	}
	if strings.ContainsAny(nick, " ,*?!@#:.\x00\x07\r\n") {
		return fmt.Errorf("nickname contains invalid characters")
	}
	return nil
}

// ValidateServerAddress validates a server address and port
func ValidateServerAddress(address string, port int) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("server address is required")
	}
	if strings.ContainsAny(address, " /") {
		return fmt.Errorf("server address %q is not a host name", address)
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateListenAddress validates a host:port to serve on
func ValidateListenAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if port == "" {
		return fmt.Errorf("listen address %q has no port", addr)
	}
	return nil
}
