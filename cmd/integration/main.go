package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tmacey/delta-roller/internal/mock"
	"github.com/tmacey/delta-roller/internal/strategy"
)

// End-to-end pass against the canned mock account. Expected outcome: a roll
// on FAS, a cheap-short cover on XOP, and nothing on UAL (queued order) or
// SPY (equity, skipped).
func main() {
	fmt.Println("=== Delta Roller - End-to-End Integration Run ===")
	fmt.Println()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.DebugLevel)

	mockBroker := mock.NewBroker()
	engine := strategy.NewEngine(mockBroker, logger, strategy.Settings{
		MinDelta:        0.8,
		ShortCloseAsk:   0.05,
		StrikeCount:     20,
		MinOpenInterest: 5,
	})

	decisions, err := engine.Run(context.Background())
	if err != nil {
		logger.Fatalf("Run failed: %v", err)
	}

	fmt.Printf("\n%d decision(s):\n\n", len(decisions))
	for _, d := range decisions {
		fmt.Printf("[%s] %s\n", d.Underlying, d.Reason)
		payload, err := json.MarshalIndent(d.Order, "", "  ")
		if err != nil {
			logger.Fatalf("Failed to render order payload: %v", err)
		}
		fmt.Println(string(payload))
		fmt.Println()
	}

	if len(decisions) != 2 {
		logger.Fatalf("Expected 2 decisions (FAS roll, XOP cover), got %d", len(decisions))
	}
	fmt.Println("Integration run passed.")
}
