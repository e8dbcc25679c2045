// Command integration exercises the full pipeline against the IG demo
// environment: session, positions, market details, instrument parsing,
// and one end-to-end analytics cycle. It needs real demo credentials in
// config.yaml and is meant to be run by hand, not in CI.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rowanbeckett/greekwatch/internal/broker"
	"github.com/rowanbeckett/greekwatch/internal/config"
	"github.com/rowanbeckett/greekwatch/internal/engine"
	"github.com/rowanbeckett/greekwatch/internal/feed"
	"github.com/rowanbeckett/greekwatch/internal/markets"
	"github.com/rowanbeckett/greekwatch/internal/pricing"
	"github.com/rowanbeckett/greekwatch/internal/render"
	"github.com/rowanbeckett/greekwatch/internal/util"
)

func main() {
	fmt.Println("=== greekwatch - End-to-End Integration Check ===")
	fmt.Println()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Never run the harness against a live account.
	if !cfg.IsDemo() {
		log.Fatalf("Integration checks must run against the demo environment. Set environment.mode: 'demo' in config.yaml")
	}
	if err := cfg.IG.Validate(); err != nil {
		log.Fatalf("Missing IG credentials: %v", err)
	}

	logger := log.New(os.Stdout, "[E2E] ", log.LstdFlags)

	client := broker.NewIGClient(cfg.IG.APIKey, cfg.IG.Username, cfg.IG.Password, true)

	fmt.Println("All components initialized successfully")
	fmt.Println()

	runIntegrationChecks(cfg, client, logger)
}

func runIntegrationChecks(cfg *config.Config, client *broker.IGClient, logger *log.Logger) {
	checksPassed := 0
	totalChecks := 5

	fmt.Println("Check 1: Session Login")
	fmt.Println("======================")
	if checkLogin(client, logger) {
		checksPassed++
		fmt.Println("✅ PASSED")
	} else {
		fmt.Println("❌ FAILED")
	}
	fmt.Println()

	fmt.Println("Check 2: Positions Retrieval")
	fmt.Println("============================")
	if checkPositions(client, logger) {
		checksPassed++
		fmt.Println("✅ PASSED")
	} else {
		fmt.Println("❌ FAILED")
	}
	fmt.Println()

	fmt.Println("Check 3: Market Details")
	fmt.Println("=======================")
	if checkMarketDetails(client, logger) {
		checksPassed++
		fmt.Println("✅ PASSED")
	} else {
		fmt.Println("❌ FAILED")
	}
	fmt.Println()

	fmt.Println("Check 4: Instrument Parsing")
	fmt.Println("===========================")
	if checkInstrumentParsing(client, logger) {
		checksPassed++
		fmt.Println("✅ PASSED")
	} else {
		fmt.Println("❌ FAILED")
	}
	fmt.Println()

	fmt.Println("Check 5: Analytics Cycle")
	fmt.Println("========================")
	if checkAnalyticsCycle(cfg, client, logger) {
		checksPassed++
		fmt.Println("✅ PASSED")
	} else {
		fmt.Println("❌ FAILED")
	}
	fmt.Println()

	fmt.Println("=== Integration Check Results ===")
	fmt.Printf("Checks Passed: %d/%d\n", checksPassed, totalChecks)
	if checksPassed == totalChecks {
		fmt.Println("All checks passed - pipeline works against the demo API")
	} else {
		fmt.Printf("%d check(s) failed - review before relying on live data\n", totalChecks-checksPassed)
		os.Exit(1)
	}
}

func checkLogin(client *broker.IGClient, logger *log.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Login(ctx); err != nil {
		logger.Printf("Login failed: %v", err)
		return false
	}
	if !client.Authenticated() {
		logger.Printf("Login succeeded but the client reports no session")
		return false
	}

	logger.Printf("Session established")
	return true
}

func checkPositions(client *broker.IGClient, logger *log.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := client.Positions(ctx)
	if err != nil {
		logger.Printf("Positions fetch failed: %v", err)
		return false
	}

	options := 0
	for _, rec := range records {
		if markets.IsOptionEpic(rec.Market.Epic) {
			options++
		}
	}
	logger.Printf("Found %d open positions (%d options)", len(records), options)
	if options == 0 {
		logger.Printf("Note: open an option position on the demo account to exercise the full pipeline")
	}
	return true
}

func checkMarketDetails(client *broker.IGClient, logger *log.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	epic, ok := markets.UnderlyingEpic("US 500")
	if !ok {
		logger.Printf("No underlying epic mapping for US 500")
		return false
	}

	details, err := client.MarketDetails(ctx, epic)
	if err != nil {
		logger.Printf("Market details fetch failed for %s: %v", epic, err)
		return false
	}

	mid := util.Mid(details.Snapshot.Bid, details.Snapshot.Offer)
	logger.Printf("%s (%s): bid %.2f offer %.2f mid %.2f",
		details.Instrument.MarketID, epic, details.Snapshot.Bid, details.Snapshot.Offer, mid)

	// A closed market can quote zero; reaching the endpoint is the check.
	return details.Instrument.MarketID != ""
}

func checkInstrumentParsing(client *broker.IGClient, logger *log.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := client.Positions(ctx)
	if err != nil {
		logger.Printf("Positions fetch failed: %v", err)
		return false
	}

	parsed := 0
	for _, rec := range records {
		if !markets.IsOptionEpic(rec.Market.Epic) {
			continue
		}
		strike, right, err := markets.ParseOptionName(rec.Market.InstrumentName)
		if err != nil {
			logger.Printf("Failed to parse %q: %v", rec.Market.InstrumentName, err)
			return false
		}
		expiry, err := markets.ParseExpiry(rec.Market.Expiry)
		if err != nil {
			logger.Printf("Failed to parse expiry %q: %v", rec.Market.Expiry, err)
			return false
		}
		logger.Printf("%s -> strike %v %s, expires %s",
			rec.Market.InstrumentName, strike, right, expiry.Format("2006-01-02"))
		parsed++
	}

	logger.Printf("Parsed %d option instruments", parsed)
	return true
}

func checkAnalyticsCycle(cfg *config.Config, client *broker.IGClient, logger *log.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cachePath := "data/instruments_integration_test.json"
	cache, err := markets.NewCache(cachePath)
	if err != nil {
		logger.Printf("Failed to create instrument cache: %v", err)
		return false
	}
	defer func() {
		if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
			logger.Printf("Warning: Failed to cleanup test cache file: %v", err)
		}
	}()

	poller := feed.NewPoller(client, cache, feed.Options{
		Interval: cfg.PollInterval(),
		RiskFree: cfg.Rates.RiskFree,
		Carry:    cfg.Rates.Carry,
	}, logrus.StandardLogger())

	batch, err := poller.Cycle(ctx)
	if err != nil {
		logger.Printf("Poll cycle failed: %v", err)
		return false
	}

	processor := engine.NewProcessor(engine.NewTracker(), pricing.NewSolver(pricing.SolverConfig{}),
		cfg.StalenessWindow(), nil, logrus.StandardLogger())
	table := processor.ProcessBatch(batch)

	fmt.Print(render.Format(table))
	logger.Printf("Cycle produced %d rows and %d errors", len(table.Rows), len(table.Errors))
	return true
}
