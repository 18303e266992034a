package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nearminter/internal/config"
	"nearminter/internal/ledger"
	"nearminter/internal/logging"
	"nearminter/internal/mint"
)

func TestCommandStructure(t *testing.T) {
	for _, path := range [][]string{
		{"mint"}, {"info"}, {"history"},
		{"wallet", "connect"}, {"wallet", "disconnect"}, {"wallet", "status"},
	} {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			cmd, _, err := rootCmd.Find(path)
			if err != nil || cmd == nil {
				t.Fatalf("command %v not found: %v", path, err)
			}
			if cmd.Short == "" {
				t.Errorf("command %v has no Short description", path)
			}
		})
	}
}

func TestReadAsset(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "cat.png")
	if err := os.WriteFile(png, []byte("\x89PNG\r\n\x1a\nrest"), 0o600); err != nil {
		t.Fatal(err)
	}
	asset, err := readAsset(png)
	if err != nil {
		t.Fatalf("read asset: %v", err)
	}
	if asset.Name != "cat.png" || asset.MediaType != "image/png" || asset.Size() != 12 {
		t.Fatalf("unexpected asset %+v", asset)
	}

	noExt := filepath.Join(dir, "cat")
	_ = os.WriteFile(noExt, []byte("\x89PNG\r\n\x1a\nrest"), 0o600)
	asset, err = readAsset(noExt)
	if err != nil || asset.MediaType != "image/png" {
		t.Fatalf("expected sniffed png, got %q %v", asset.MediaType, err)
	}

	txt := filepath.Join(dir, "notes.txt")
	_ = os.WriteFile(txt, []byte("hello"), 0o600)
	asset, _ = readAsset(txt)
	if err := mint.ValidateAsset(asset); mint.KindOf(err) != mint.KindValidation {
		t.Fatalf("expected text file to be rejected, got %v", err)
	}

	if _, err := readAsset(filepath.Join(dir, "missing.png")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func useConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{
		Chain:   config.ChainConfig{NetworkID: "testnet", ContractID: "easy-proxy.testnet"},
		Mint:    config.MintConfig{MethodName: "nft_mint_proxy", Gas: 300_000_000_000_000, DepositYocto: "200000000000000000000000", MintingCost: "0.2", StorageDeposit: "0.01"},
		Pinning: config.PinningConfig{GatewayURL: "https://gateway.filebase.io/ipfs"},
		Service: config.ServiceConfig{LedgerPath: filepath.Join(dir, "ledger.json")},
	}
	prevCfg, prevLog := appConfig, logger
	appConfig, logger = cfg, logging.Discard()
	t.Cleanup(func() { appConfig, logger = prevCfg, prevLog })
	return cfg
}

func TestInfoCommand(t *testing.T) {
	useConfig(t)
	var out bytes.Buffer
	infoCmd.SetOut(&out)
	defer infoCmd.SetOut(nil)

	if err := infoCmd.RunE(infoCmd, nil); err != nil {
		t.Fatalf("info: %v", err)
	}
	for _, want := range []string{"easy-proxy.testnet", "testnet", "0.2 NEAR", "0.01 NEAR", "300 Tgas"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("info output missing %q:\n%s", want, out.String())
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	cfg := useConfig(t)
	var out bytes.Buffer
	historyCmd.SetOut(&out)
	defer historyCmd.SetOut(nil)

	if err := runHistory(historyCmd, nil); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "No mints recorded yet") {
		t.Fatalf("expected empty notice, got %q", out.String())
	}

	store, err := ledger.NewFileStore(cfg.Service.LedgerPath)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Save(context.Background(), ledger.Record{
		RunID: "r1", Status: ledger.StatusSucceeded, Title: "Cat #1", TokenID: "abc", TransactionHash: "abc",
		CreatedAt: time.Now(),
	})
	_ = store.Save(context.Background(), ledger.Record{
		RunID: "r2", Status: ledger.StatusFailed, Title: "Dog", Error: "Failed to upload to IPFS: 401",
		CreatedAt: time.Now().Add(time.Minute),
	})

	out.Reset()
	historyLimit = 10
	if err := runHistory(historyCmd, nil); err != nil {
		t.Fatalf("history: %v", err)
	}
	text := out.String()
	if strings.Index(text, "Dog") > strings.Index(text, "Cat #1") {
		t.Fatalf("expected newest first:\n%s", text)
	}
	if !strings.Contains(text, "Failed to upload to IPFS") {
		t.Fatalf("failed run should show its error:\n%s", text)
	}
}

func TestRecordSkipsValidationFailures(t *testing.T) {
	useConfig(t)
	store := ledger.NewMemoryStore()
	record(store, "alice.testnet", "Cat #1", mint.Outcome{}, &mint.Error{Kind: mint.KindValidation})
	record(store, "alice.testnet", "Cat #1", mint.Outcome{RunID: "r1", TokenID: "abc"}, nil)

	list, _ := store.List(context.Background(), 10)
	if len(list) != 1 || list[0].RunID != "r1" {
		t.Fatalf("unexpected records %+v", list)
	}
}
