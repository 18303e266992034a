package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"nearminter/internal/app"
	"nearminter/internal/ledger"
	"nearminter/internal/mint"
	"nearminter/internal/ui"
	"nearminter/internal/wallet"
)

var (
	mintFile        string
	mintTitle       string
	mintDescription string
	mintYes         bool
	mintPlain       bool
)

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Upload an image to IPFS and mint it as an NFT",
	Long: `Upload an image and its metadata to IPFS, then call nft_mint_proxy
with the connected account. The transaction attaches 0.2 NEAR.

You are asked to approve the transaction before it is signed, unless --yes
is given. Press esc while uploading or waiting for approval to cancel; any
files already uploaded are unpinned.`,
	Example: `  minter mint --file cat.png --title "Cat #1" --description "A cat."`,
	RunE:    runMint,
}

func init() {
	mintCmd.Flags().StringVarP(&mintFile, "file", "f", "", "image to mint (max 10MB)")
	mintCmd.Flags().StringVarP(&mintTitle, "title", "t", "", "NFT title (max 32 characters)")
	mintCmd.Flags().StringVarP(&mintDescription, "description", "d", "", "NFT description (max 256 characters)")
	mintCmd.Flags().BoolVarP(&mintYes, "yes", "y", false, "approve the transaction without asking")
	mintCmd.Flags().BoolVar(&mintPlain, "plain", false, "print progress as plain lines instead of the interactive view")
	_ = mintCmd.MarkFlagRequired("file")
}

// readAsset loads an image from disk and determines its media type from the
// extension, falling back to content sniffing.
func readAsset(path string) (mint.Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return mint.Asset{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if info.Size() > mint.MaxAssetSize {
		return mint.Asset{}, &mint.Error{Kind: mint.KindValidation, Err: errors.New("file size must be less than 10MB")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mint.Asset{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	return mint.Asset{Name: filepath.Base(path), MediaType: mediaType, Data: data}, nil
}

func runMint(cmd *cobra.Command, _ []string) error {
	asset, err := readAsset(mintFile)
	if err != nil {
		return err
	}
	if err := mint.ValidateAsset(asset); err != nil {
		return err
	}

	interactive := !mintPlain
	var approver wallet.Approver
	var tuiApprover *ui.TerminalApprover
	switch {
	case mintYes:
		approver = wallet.AutoApprove
	case interactive:
		tuiApprover = ui.NewTerminalApprover()
		approver = tuiApprover
	default:
		approver = &ui.LineApprover{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
	}

	stack, err := app.Build(getContext(), appConfig, logger, app.Options{Approver: approver, Chooser: chooseAccount})
	if err != nil {
		return err
	}
	defer stack.Close()

	session := stack.Session
	if !session.IsConnected() {
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatInfo("No wallet connected, signing in..."))
		if _, err := session.ConnectAndWait(getContext()); err != nil {
			return fmt.Errorf("please connect your wallet first: %w", err)
		}
	}

	events, unsubscribe := stack.Orchestrator.Subscribe()
	defer unsubscribe()

	run := func(ctx context.Context) (mint.Outcome, error) {
		out, err := stack.Orchestrator.Run(ctx, asset, mintTitle, mintDescription, session)
		record(stack.Ledger, session.AccountID(), mintTitle, out, err)
		return out, err
	}

	var outcome mint.Outcome
	if interactive {
		var prompts <-chan ui.ApprovalPrompt
		if tuiApprover != nil {
			prompts = tuiApprover.Prompts()
		}
		model := ui.NewMintModel(ui.MintModelConfig{
			Run:         run,
			Events:      events,
			Prompts:     prompts,
			ExplorerURL: appConfig.ExplorerAccountURL(session.AccountID()),
		})
		if _, err := tea.NewProgram(model).Run(); err != nil {
			return fmt.Errorf("error running mint view: %w", err)
		}
		outcome, err = model.Result()
	} else {
		renderer := &ui.PlainRenderer{Out: cmd.OutOrStdout()}
		followed := make(chan struct{})
		go func() {
			defer close(followed)
			renderer.Follow(events)
		}()

		ctx, stop := signal.NotifyContext(getContext(), os.Interrupt)
		defer stop()
		outcome, err = run(ctx)
		unsubscribe()
		<-followed
	}

	if err != nil {
		var mintErr *mint.Error
		if errors.As(err, &mintErr) {
			return errors.New(mintErr.Message())
		}
		return err
	}
	if !interactive {
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatMuted("View your NFTs: "+appConfig.ExplorerAccountURL(outcome.AccountID)))
	}
	return nil
}

// record stores the receipt of a finished run. Failures to record are
// logged, never returned.
func record(store ledger.Store, accountID, title string, out mint.Outcome, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var rec ledger.Record
	if runErr == nil {
		rec = ledger.FromOutcome(out)
	} else {
		var ok bool
		rec, ok = ledger.FromFailure(accountID, title, runErr, time.Now())
		if !ok {
			return
		}
	}
	if err := store.Save(ctx, rec); err != nil {
		logger.Error("failed to record mint", "run", rec.RunID, "err", err)
	}
}
