package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ExampleFile is the configuration written by WriteExample
func ExampleFile() File {
	useTLS := true
	bot := DefaultBotSection()
	bot.JournalPath = "~/.alis-bot/journal.db"
	return File{
		Bot: bot,
		Networks: []NetworkSection{
			{
				Name:     "libera",
				Host:     "irc.libera.chat",
				Port:     6697,
				TLS:      &useTLS,
				Nickname: "alis-bot",
				Username: "alis",
				Realname: "Channel search bot",
			},
		},
	}
}

// WriteExample writes ExampleFile as TOML to path. An existing file is
// never overwritten.
func WriteExample(path string) error {
	path, err := ExpandHome(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# alis-bot configuration
# Add one [[networks]] table per server. Settings under [bot] apply to all of them.

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(ExampleFile()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
