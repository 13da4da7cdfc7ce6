package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoBots          = errors.New("no bots configured")
	ErrBotListMismatch = errors.New("bot lists have different lengths")
	ErrDuplicateBot    = errors.New("duplicate bot name")
)

// Bot is one configured bot identity.
type Bot struct {
	Name         string `yaml:"name"`
	Token        string `yaml:"token"`
	AssistantID  string `yaml:"assistant_id"`
	SystemPrompt string `yaml:"system_prompt"`
}

type botsFile struct {
	Bots []Bot `yaml:"bots"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} references; unset variables become empty.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Bots resolves the bot list in registration order, from BotsFile when set
// and from the comma-separated token and assistant id lists otherwise.
func (c Config) Bots() ([]Bot, error) {
	var bots []Bot
	if c.BotsFile != "" {
		loaded, err := LoadBotsFile(c.BotsFile)
		if err != nil {
			return nil, err
		}
		bots = loaded
	} else {
		fromEnv, err := botsFromLists(c.BotNamesCSV, c.TelegramTokensCSV, c.AssistantIDsCSV)
		if err != nil {
			return nil, err
		}
		bots = fromEnv
	}
	return normalizeBots(bots, c.AssistantSystemPrompt)
}

func LoadBotsFile(path string) ([]Bot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bots file: %w", err)
	}
	var parsed botsFile
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &parsed); err != nil {
		return nil, fmt.Errorf("parsing bots file: %w", err)
	}
	return parsed.Bots, nil
}

func botsFromLists(namesCSV, tokensCSV, assistantIDsCSV string) ([]Bot, error) {
	tokens := splitCSV(tokensCSV)
	assistantIDs := splitCSV(assistantIDsCSV)
	names := splitCSV(namesCSV)
	if len(tokens) == 0 {
		return nil, ErrNoBots
	}
	if len(assistantIDs) != 0 && len(assistantIDs) != len(tokens) {
		return nil, fmt.Errorf("%w: %d tokens, %d assistant ids", ErrBotListMismatch, len(tokens), len(assistantIDs))
	}
	if len(names) != 0 && len(names) != len(tokens) {
		return nil, fmt.Errorf("%w: %d tokens, %d names", ErrBotListMismatch, len(tokens), len(names))
	}

	bots := make([]Bot, 0, len(tokens))
	for i, token := range tokens {
		bot := Bot{Token: token}
		if len(assistantIDs) != 0 {
			bot.AssistantID = assistantIDs[i]
		}
		if len(names) != 0 {
			bot.Name = names[i]
		}
		bots = append(bots, bot)
	}
	return bots, nil
}

func normalizeBots(bots []Bot, defaultPrompt string) ([]Bot, error) {
	if len(bots) == 0 {
		return nil, ErrNoBots
	}
	seen := map[string]struct{}{}
	normalized := make([]Bot, 0, len(bots))
	for i, bot := range bots {
		bot.Name = strings.TrimSpace(bot.Name)
		bot.Token = strings.TrimSpace(bot.Token)
		bot.AssistantID = strings.TrimSpace(bot.AssistantID)
		bot.SystemPrompt = strings.TrimSpace(bot.SystemPrompt)
		if bot.Name == "" {
			bot.Name = "bot" + strconv.Itoa(i+1)
		}
		if bot.SystemPrompt == "" {
			bot.SystemPrompt = defaultPrompt
		}
		key := strings.ToLower(bot.Name)
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBot, bot.Name)
		}
		seen[key] = struct{}{}
		normalized = append(normalized, bot)
	}
	return normalized, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
