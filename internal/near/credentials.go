package near

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Credentials mirrors the key files near-cli writes to ~/.near-credentials/<network>/<account>.json.
type Credentials struct {
	AccountID  string `json:"account_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// KeyPair is a parsed, usable signing key for an account.
type KeyPair struct {
	AccountID  string
	PublicKey  PublicKey
	PrivateKey ed25519.PrivateKey
}

func CredentialsPath(dir, network, accountID string) string {
	return filepath.Join(dir, network, accountID+".json")
}

func LoadKeyPair(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials %s: %w", path, err)
	}
	if creds.AccountID == "" {
		creds.AccountID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	priv, err := ParsePrivateKey(creds.PrivateKey)
	if err != nil {
		return nil, err
	}
	pub := PublicKeyOf(priv)
	if creds.PublicKey != "" {
		declared, err := ParsePublicKey(creds.PublicKey)
		if err != nil {
			return nil, err
		}
		if declared != pub {
			return nil, fmt.Errorf("credentials %s: public key does not match private key", path)
		}
	}
	return &KeyPair{AccountID: creds.AccountID, PublicKey: pub, PrivateKey: priv}, nil
}

// ListAccounts returns the account ids that have a credential file for network.
func ListAccounts(dir, network string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, network))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var accounts []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		accounts = append(accounts, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(accounts)
	return accounts, nil
}
