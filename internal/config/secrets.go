package config

import (
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the keychain service name secrets are stored under.
const KeyringService = "linegem"

// KeyringPrefix marks a config value that names a keychain account.
const KeyringPrefix = "keyring:"

// GetSecret retrieves a secret from the system keychain.
func GetSecret(account string) (string, error) {
	return keyring.Get(KeyringService, account)
}

// SetSecret stores a secret in the system keychain.
func SetSecret(account, value string) error {
	return keyring.Set(KeyringService, account, value)
}

// DeleteSecret removes a secret from the system keychain.
func DeleteSecret(account string) error {
	return keyring.Delete(KeyringService, account)
}

// resolveSecrets replaces keyring:<account> references in the credential fields.
func resolveSecrets(cfg *Config) error {
	fields := map[string]*string{
		"line.channelSecret":      &cfg.LINE.ChannelSecret,
		"line.channelAccessToken": &cfg.LINE.ChannelAccessToken,
		"ai.apiKey":               &cfg.AI.APIKey,
		"supabase.key":            &cfg.Supabase.Key,
		"dedupe.redisUrl":         &cfg.Dedupe.RedisURL,
	}
	var errs []string
	for path, v := range fields {
		account, ok := strings.CutPrefix(*v, KeyringPrefix)
		if !ok {
			continue
		}
		secret, err := GetSecret(account)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: keychain account %q: %v", path, account, err))
			continue
		}
		*v = secret
	}
	if len(errs) > 0 {
		return fmt.Errorf("resolve secrets:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
