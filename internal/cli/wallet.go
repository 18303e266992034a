package cli

import (
	"errors"
	"fmt"

	fuzzyfinder "github.com/ktr0731/go-fuzzyfinder"
	"github.com/spf13/cobra"

	"nearminter/internal/app"
	"nearminter/internal/ui"
	"nearminter/internal/wallet"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Connect, disconnect or inspect the signing account",
}

var walletConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Sign in with a key from the NEAR credentials directory",
	RunE:  runWalletConnect,
}

var walletDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the connected account",
	RunE:  runWalletDisconnect,
}

var walletStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connected account",
	RunE:  runWalletStatus,
}

func init() {
	walletCmd.AddCommand(walletConnectCmd, walletDisconnectCmd, walletStatusCmd)
}

func buildWalletStack() (*app.Stack, error) {
	return app.Build(getContext(), appConfig, logger, app.Options{
		Approver: wallet.AutoApprove,
		Chooser:  chooseAccount,
	})
}

func runWalletConnect(cmd *cobra.Command, _ []string) error {
	stack, err := buildWalletStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	if stack.Session.IsConnected() {
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatInfo("Already connected as "+stack.Session.AccountID()))
		return nil
	}
	account, err := stack.Session.ConnectAndWait(getContext())
	if err != nil {
		if errors.Is(err, wallet.ErrNoCredentials) {
			fmt.Fprintln(cmd.OutOrStdout(), ui.FormatInfo("Create a key with `near login` or set NEAR_CREDENTIALS_DIR"))
		}
		return fmt.Errorf("failed to connect wallet: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess("Connected as "+account))
	return nil
}

func runWalletDisconnect(cmd *cobra.Command, _ []string) error {
	stack, err := buildWalletStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	if err := stack.Session.Disconnect(getContext()); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatWarning(err.Error()))
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.FormatSuccess("Disconnected"))
	return nil
}

func runWalletStatus(cmd *cobra.Command, _ []string) error {
	stack, err := buildWalletStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	out := cmd.OutOrStdout()
	if !stack.Session.IsConnected() {
		fmt.Fprintln(out, ui.FormatWarning("No wallet connected"))
		return nil
	}
	account := stack.Session.AccountID()
	fmt.Fprintln(out, ui.FormatSuccess("Connected as "+account))
	fmt.Fprintln(out, ui.FormatMuted("Network: "+appConfig.Chain.NetworkID))
	fmt.Fprintln(out, ui.FormatMuted("NFTs:    "+appConfig.ExplorerAccountURL(account)))
	return nil
}

// chooseAccount lets the user pick among several credential files.
func chooseAccount(accounts []string) (string, error) {
	idx, err := fuzzyfinder.Find(
		accounts,
		func(i int) string { return accounts[i] },
		fuzzyfinder.WithPromptString("account> "),
		fuzzyfinder.WithHeader("Select the NEAR account to sign with"),
	)
	if err != nil {
		if errors.Is(err, fuzzyfinder.ErrAbort) {
			return "", wallet.ErrUserRejected
		}
		return "", err
	}
	return accounts[idx], nil
}
