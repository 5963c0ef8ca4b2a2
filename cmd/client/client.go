package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"matchbook/internal/common"
	"matchbook/internal/config"
	"matchbook/internal/logging"
	matchNet "matchbook/internal/net"

	"github.com/rs/zerolog/log"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'modify', 'levels']")

	// Order Parameters
	id := flag.Uint64("id", 0, "Order id; with several quantities, ids count up from here")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	tifStr := flag.String("tif", "gtc", "Time in force: 'gtc' or 'fak'")
	price := flag.String("price", "100.00", "Limit price as a decimal")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")
	scale := flag.Int("scale", int(config.Default().Market.PriceScale), "Decimal places in one price tick")

	flag.Parse()

	if err := logging.Setup(config.LogConfig{Level: "info", Pretty: true}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	priceScale := int32(*scale)

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect")
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *serverAddr)

	// Start Listening for Reports (Async)
	go readReports(conn, priceScale)

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}
	tif := common.GoodTillCancel
	if strings.ToLower(*tifStr) == "fak" {
		tif = common.FillAndKill
	}

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		ticks := mustParsePrice(*price, priceScale)
		for i, q := range parseQuantities(*qtyStr) {
			order := common.NewOrder(tif, common.OrderID(*id+uint64(i)), side, ticks, q)
			if _, err := conn.Write(matchNet.EncodeNewOrder(order)); err != nil {
				log.Error().Err(err).Uint32("qty", uint32(q)).Msg("failed to place order")
				continue
			}
			fmt.Printf("-> Sent %s %s Order %d: %d @ %s\n",
				side, tif, order.ID(), q, common.FormatPrice(ticks, priceScale))
		}

	case "modify":
		ticks := mustParsePrice(*price, priceScale)
		quantities := parseQuantities(*qtyStr)
		if len(quantities) != 1 {
			log.Fatal().Msg("modify takes exactly one quantity")
		}
		modify := common.OrderModify{ID: common.OrderID(*id), Side: side, Price: ticks, Quantity: quantities[0]}
		if _, err := conn.Write(matchNet.EncodeModifyOrder(modify)); err != nil {
			log.Fatal().Err(err).Msg("failed to send modify request")
		}
		fmt.Printf("-> Sent Modify for %d: %s %d @ %s\n",
			modify.ID, side, modify.Quantity, common.FormatPrice(ticks, priceScale))

	case "cancel":
		if _, err := conn.Write(matchNet.EncodeCancelOrder(common.OrderID(*id))); err != nil {
			log.Fatal().Err(err).Msg("failed to send cancel request")
		}
		fmt.Printf("-> Sent Cancel Request for %d\n", *id)

	case "levels":
		if _, err := conn.Write(matchNet.EncodeRequest(matchNet.LevelsRequest)); err != nil {
			log.Fatal().Err(err).Msg("failed to send levels request")
		}
		fmt.Println("-> Sent Levels Request")

	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	// Keep the client alive to receive reports.
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func mustParsePrice(s string, scale int32) common.Price {
	ticks, err := common.ParsePrice(s, scale)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid price")
	}
	return ticks
}

// parseQuantities splits a comma-separated string into quantities.
func parseQuantities(input string) []common.Quantity {
	parts := strings.Split(input, ",")
	var result []common.Quantity
	for _, p := range parts {
		p = strings.TrimSpace(p)
		val, err := strconv.ParseUint(p, 10, 32)
		if err != nil || val == 0 {
			log.Warn().Str("qty", p).Msg("invalid quantity, skipping")
			continue
		}
		result = append(result, common.Quantity(val))
	}
	return result
}

// readReports continuously reads and prints reports from the server.
func readReports(conn net.Conn, scale int32) {
	for {
		payload, err := matchNet.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Msg("connection lost")
			}
			os.Exit(0)
		}

		report, err := matchNet.ParseReport(payload)
		if err != nil {
			log.Error().Err(err).Msg("unreadable report")
			continue
		}

		switch r := report.(type) {
		case matchNet.Execution:
			fmt.Printf("\n[EXECUTION] %s %d | Qty: %d | Price: %s | vs: %d | Exec: %s\n",
				r.Side, r.OrderID, r.Quantity, common.FormatPrice(r.Price, scale), r.CounterParty, r.ExecID)
		case matchNet.Reject:
			fmt.Printf("\n[REJECT] Order %d: %s %s\n", r.OrderID, r.Reason, r.Err)
		case matchNet.Levels:
			fmt.Println("\n[LEVELS]")
			for i := len(r.Asks) - 1; i >= 0; i-- {
				fmt.Printf("  ASK %12s %10d\n", common.FormatPrice(r.Asks[i].Price, scale), r.Asks[i].Quantity)
			}
			fmt.Println("  ---------------------------")
			for _, level := range r.Bids {
				fmt.Printf("  BID %12s %10d\n", common.FormatPrice(level.Price, scale), level.Quantity)
			}
			if r.Truncated() {
				fmt.Printf("  (showing %d of %d bid and %d of %d ask levels)\n",
					len(r.Bids), r.TotalBids, len(r.Asks), r.TotalAsks)
			}
		}
	}
}
