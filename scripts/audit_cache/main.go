// audit_cache - A utility to audit open IG option positions against the
// local instrument cache. It flags positions the cache cannot resolve yet,
// positions whose names will never parse, and cached instruments that no
// longer back an open position.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rowanbeckett/greekwatch/internal/broker"
	"github.com/rowanbeckett/greekwatch/internal/config"
	"github.com/rowanbeckett/greekwatch/internal/markets"
)

// maskUsername masks all but the last 4 characters of the IG username to
// prevent PII exposure in terminal output.
func maskUsername(name string) string {
	if len(name) > 4 {
		return strings.Repeat("*", len(name)-4) + name[len(name)-4:]
	}
	return name
}

// AuditResult is the comparison of the broker's open book against the
// local instrument cache.
type AuditResult struct {
	Summary struct {
		TotalPositions  int `json:"total_positions"`
		OptionPositions int `json:"option_positions"`
		CachedResolved  int `json:"cached_resolved"`
		Unresolved      int `json:"unresolved"`
		OrphanedEntries int `json:"orphaned_entries"`
	} `json:"summary"`
	Unresolved []UnresolvedPosition `json:"unresolved,omitempty"`
	Orphans    []string             `json:"orphans,omitempty"`
}

// UnresolvedPosition is an open option position without a cache entry.
type UnresolvedPosition struct {
	DealID string `json:"deal_id"`
	Epic   string `json:"epic"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		jsonOutput = flag.Bool("json", false, "Output results as JSON")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.IG.Validate(); err != nil {
		log.Fatalf("Missing IG credentials: %v", err)
	}

	if *verbose {
		fmt.Printf("Using config: %s\n", *configPath)
		fmt.Printf("IG environment: %s\n", cfg.Environment.Mode)
		fmt.Printf("Username: %s\n", maskUsername(cfg.IG.Username))
		fmt.Printf("Cache: %s\n", cfg.Cache.Path)
		fmt.Printf("\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := broker.NewIGClient(cfg.IG.APIKey, cfg.IG.Username, cfg.IG.Password, cfg.IsDemo())
	if err := client.Login(ctx); err != nil {
		log.Fatalf("Failed to log in: %v", err)
	}

	records, err := client.Positions(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch positions: %v", err)
	}

	cache, err := markets.NewCache(cfg.Cache.Path)
	if err != nil {
		log.Fatalf("Failed to open instrument cache: %v", err)
	}

	fmt.Printf("Auditing %d broker positions against %d cached instruments...\n", len(records), cache.Len())
	audit := auditPositions(records, cache)

	if *jsonOutput {
		output, err := json.MarshalIndent(audit, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal JSON: %v", err)
		}
		fmt.Println(string(output))
		return
	}

	printAuditReport(audit)

	fmt.Printf("=== ANALYSIS ===\n")
	issues := analyzeAuditResults(audit)
	if len(issues) > 0 {
		fmt.Printf("POTENTIAL ISSUES FOUND:\n")
		for i, issue := range issues {
			fmt.Printf("  %d. %s\n", i+1, issue)
		}
	} else {
		fmt.Printf("No obvious issues detected.\n")
	}

	fmt.Printf("\n")
	fmt.Printf("Next steps:\n")
	fmt.Printf("  1. Run the watcher to resolve uncached instruments\n")
	fmt.Printf("  2. Unparseable names need a parser fix or a market mapping entry\n")
	fmt.Printf("  3. Delete the cache file to force a full re-resolve\n")
}

func auditPositions(records []broker.PositionRecord, cache *markets.Cache) *AuditResult {
	audit := &AuditResult{}
	audit.Summary.TotalPositions = len(records)

	open := make(map[string]bool)
	for _, rec := range records {
		if !markets.IsOptionEpic(rec.Market.Epic) {
			continue
		}
		audit.Summary.OptionPositions++
		open[rec.Market.Epic] = true

		if _, ok := cache.Get(rec.Market.Epic); ok {
			audit.Summary.CachedResolved++
			continue
		}
		audit.Unresolved = append(audit.Unresolved, UnresolvedPosition{
			DealID: rec.Position.DealID,
			Epic:   rec.Market.Epic,
			Name:   rec.Market.InstrumentName,
			Reason: resolveReason(rec),
		})
	}
	audit.Summary.Unresolved = len(audit.Unresolved)

	for _, epic := range cache.Epics() {
		if !open[epic] {
			audit.Orphans = append(audit.Orphans, epic)
		}
	}
	audit.Summary.OrphanedEntries = len(audit.Orphans)

	return audit
}

// resolveReason distinguishes instruments the next poll will resolve from
// ones the parser will never accept.
func resolveReason(rec broker.PositionRecord) string {
	if _, _, err := markets.ParseOptionName(rec.Market.InstrumentName); err != nil {
		return fmt.Sprintf("unparseable name: %v", err)
	}
	if _, err := markets.ParseExpiry(rec.Market.Expiry); err != nil {
		return fmt.Sprintf("unparseable expiry: %v", err)
	}
	return "not cached yet (resolves on next poll)"
}

func printAuditReport(audit *AuditResult) {
	fmt.Printf("\n=== CACHE AUDIT ===\n")
	fmt.Printf("Total positions:   %d\n", audit.Summary.TotalPositions)
	fmt.Printf("Option positions:  %d\n", audit.Summary.OptionPositions)
	fmt.Printf("Cached resolved:   %d\n", audit.Summary.CachedResolved)
	fmt.Printf("Unresolved:        %d\n", audit.Summary.Unresolved)
	fmt.Printf("Orphaned entries:  %d\n", audit.Summary.OrphanedEntries)
	fmt.Printf("\n")

	if len(audit.Unresolved) > 0 {
		fmt.Printf("UNRESOLVED POSITIONS:\n")
		for _, u := range audit.Unresolved {
			fmt.Printf("  %s  %s\n    %s\n    %s\n", u.DealID, u.Epic, u.Name, u.Reason)
		}
		fmt.Printf("\n")
	}

	if len(audit.Orphans) > 0 {
		fmt.Printf("ORPHANED CACHE ENTRIES (no open position):\n")
		for _, epic := range audit.Orphans {
			fmt.Printf("  %s\n", epic)
		}
		fmt.Printf("\n")
	}
}

// analyzeAuditResults performs basic analysis to identify potential issues
func analyzeAuditResults(audit *AuditResult) []string {
	var issues []string

	if audit == nil {
		return issues
	}

	permanent := 0
	for _, u := range audit.Unresolved {
		if strings.HasPrefix(u.Reason, "unparseable") {
			permanent++
		}
	}
	if permanent > 0 {
		issues = append(issues, fmt.Sprintf("%d position(s) will never resolve - the parser does not understand their instrument metadata", permanent))
	}

	if audit.Summary.TotalPositions > 0 && audit.Summary.OptionPositions == 0 {
		issues = append(issues, "No option positions open - only options get analytics rows")
	}

	if audit.Summary.OrphanedEntries > audit.Summary.OptionPositions*2 && audit.Summary.OrphanedEntries > 10 {
		issues = append(issues, fmt.Sprintf("Cache holds %d instruments with no open position - mostly expired contracts, safe to delete the cache file", audit.Summary.OrphanedEntries))
	}

	return issues
}
