package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/americaniron/ironfreight/pkg/shipping"
	"github.com/spf13/cobra"
)

// shipmentFile is the JSON file the rates and buy commands read.
type shipmentFile struct {
	Carrier   shipper.Carrier   `json:"carrier"`
	Shipper   shipper.Address   `json:"shipper"`
	Recipient shipper.Address   `json:"recipient"`
	Packages  []shipper.Package `json:"packages"`
}

var (
	shipmentPath string
	carrierFlag  string
	serviceFlag  string
	orderIDFlag  string
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Request quotes from the carrier backend",
	RunE:  runRates,
}

var buyCmd = &cobra.Command{
	Use:   "buy",
	Short: "Price a shipment and purchase a label for the chosen service",
	Long: `Price a shipment and purchase a label for the chosen service.

Each run prices the shipment afresh and makes at most one purchase attempt.
When the outcome of an attempt is unknown, check the carrier account for the
shipment before running buy again.`,
	RunE: runBuy,
}

var trackCmd = &cobra.Command{
	Use:   "track <tracking-number>",
	Short: "Look up a shipment's tracking status",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrack,
}

func init() {
	for _, c := range []*cobra.Command{ratesCmd, buyCmd} {
		c.Flags().StringVarP(&shipmentPath, "file", "f", "", "shipment JSON file (shipper, recipient, packages)")
		c.Flags().StringVar(&carrierFlag, "carrier", "", "UPS, DHL or AUTO (overrides the file)")
		_ = c.MarkFlagRequired("file")
	}
	buyCmd.Flags().StringVar(&serviceFlag, "service", "", "service code of the quote to buy")
	buyCmd.Flags().StringVar(&orderIDFlag, "order-id", "", "order reference attached to the shipment")
	_ = buyCmd.MarkFlagRequired("service")

	trackCmd.Flags().StringVar(&carrierFlag, "carrier", "", "UPS or DHL")
	_ = trackCmd.MarkFlagRequired("carrier")
}

func readShipment() (shipping.RateParams, error) {
	data, err := os.ReadFile(shipmentPath)
	if err != nil {
		return shipping.RateParams{}, fmt.Errorf("reading shipment file: %w", err)
	}
	var f shipmentFile
	if err := json.Unmarshal(data, &f); err != nil {
		return shipping.RateParams{}, fmt.Errorf("parsing shipment file: %w", err)
	}
	if carrierFlag != "" {
		f.Carrier = shipper.Carrier(carrierFlag)
	}
	if f.Carrier == "" {
		f.Carrier = shipper.CarrierAuto
	}

	req := shipper.RateRequest{Carrier: f.Carrier, Shipper: f.Shipper, Recipient: f.Recipient, Packages: f.Packages}
	if err := shipper.ValidateRateRequest(&req); err != nil {
		return shipping.RateParams{}, err
	}
	return shipping.RateParams{Carrier: f.Carrier, Shipper: f.Shipper, Recipient: f.Recipient, Packages: f.Packages}, nil
}

func runRates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	params, err := readShipment()
	if err != nil {
		return err
	}
	wf, logger, err := initWorkflow()
	if err != nil {
		return err
	}
	defer logger.Sync()

	quotes, err := wf.RequestRates(ctx, params)
	if err != nil {
		return errors.New(shipping.UserMessage(err))
	}
	printQuotes(cmd, quotes)
	return nil
}

func runBuy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	params, err := readShipment()
	if err != nil {
		return err
	}
	wf, logger, err := initWorkflow()
	if err != nil {
		return err
	}
	defer logger.Sync()

	result, err := buy(ctx, wf, params, serviceFlag, orderIDFlag)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// buy runs one rate, select and purchase cycle on wf. Errors carry the
// workflow's user-facing message.
func buy(ctx context.Context, wf *shipping.Workflow, params shipping.RateParams, service, orderID string) (*shipper.ShipmentResult, error) {
	if _, err := wf.RequestRates(ctx, params); err != nil {
		return nil, errors.New(shipping.UserMessage(err))
	}
	if _, err := wf.Select(service); err != nil {
		return nil, fmt.Errorf("service %q: %s", service, shipping.UserMessage(err))
	}
	result, err := wf.Purchase(ctx, shipping.PurchaseOptions{OrderID: orderID})
	if err != nil {
		return nil, errors.New(shipping.UserMessage(err))
	}
	return result, nil
}

func runTrack(cmd *cobra.Command, args []string) error {
	wf, logger, err := initWorkflow()
	if err != nil {
		return err
	}
	defer logger.Sync()

	status, err := wf.Track(cmd.Context(), shipper.Carrier(carrierFlag), args[0])
	if err != nil {
		return errors.New(shipping.UserMessage(err))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

func printQuotes(cmd *cobra.Command, quotes []shipper.Quote) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CARRIER\tSERVICE CODE\tSERVICE\tCOST\tETA")
	for _, q := range quotes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f %s\t%d days\n", q.Carrier, q.ServiceCode, q.ServiceName, q.TotalCost, q.Currency, q.ETADays)
	}
	tw.Flush()
}
