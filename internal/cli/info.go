package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nearminter/internal/ui"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show contract and cost information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.StylePrimary.Render("Contract"))
		fmt.Fprintf(out, "  Contract ID:     %s\n", appConfig.Chain.ContractID)
		fmt.Fprintf(out, "  Network:         %s\n", appConfig.Chain.NetworkID)
		fmt.Fprintf(out, "  Method:          %s\n", appConfig.Mint.MethodName)
		fmt.Fprintf(out, "  Minting cost:    %s NEAR\n", appConfig.Mint.MintingCost)
		fmt.Fprintf(out, "  Storage deposit: %s NEAR\n", appConfig.Mint.StorageDeposit)
		fmt.Fprintf(out, "  Attached:        %s, %s\n", ui.FormatNEAR(appConfig.Mint.DepositYocto), ui.FormatGas(appConfig.Mint.Gas))
		fmt.Fprintf(out, "  IPFS gateway:    %s\n", appConfig.Pinning.GatewayURL)
		return nil
	},
}
