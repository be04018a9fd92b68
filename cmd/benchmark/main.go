// Benchmark tool for testing Kestrel against synthetic transaction batches.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080
//
// This tool:
//   1. Generates CSV batches with a known set of injected fraud patterns
//   2. Sends each batch to Kestrel for analysis
//   3. Compares Kestrel's flagged transactions with the injected labels
//   4. Calculates precision, recall, F1-score, and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledBatch is a generated CSV batch plus the IDs of the
// transactions that were injected as fraudulent.
type LabeledBatch struct {
	CSV      string
	Total    int
	FraudIDs map[string]bool
}

// AnalyzeRequest is the Kestrel API request format
type AnalyzeRequest struct {
	CSV string `json:"csv"`
}

// AnalyzeResponse is the Kestrel API response format
type AnalyzeResponse struct {
	AnalysisID string `json:"analysisId"`
	Cached     bool   `json:"cached"`
	Result     struct {
		TotalTransactions      int `json:"totalTransactions"`
		SuspiciousTransactions int `json:"suspiciousTransactions"`
		OverallRiskScore       int `json:"overallRiskScore"`
		TransactionDetails     struct {
			SuspiciousTransactions []struct {
				ID        string `json:"id"`
				FraudType string `json:"fraudType"`
			} `json:"suspiciousTransactions"`
		} `json:"transactionDetails"`
	} `json:"result"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Injected fraud that was flagged
	FalsePositives int64 // Clean transactions that were flagged
	TrueNegatives  int64 // Clean transactions left alone
	FalseNegatives int64 // Injected fraud that was missed

	BatchesProcessed int64
	TotalErrors      int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	batches := flag.Int("batches", 50, "Number of batches to send")
	batchSize := flag.Int("batch-size", 200, "Transactions per batch")
	fraudRate := flag.Float64("fraud", 0.05, "Fraction of injected fraud per batch (0.0-1.0)")
	workers := flag.Int("workers", 5, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "RNG seed for reproducible batches")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Synthetic Fraud Detection          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Batches:     %d x %d transactions\n", *batches, *batchSize)
	fmt.Printf("Fraud Rate:  %.2f\n", *fraudRate)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Generate labeled batches up front so request time measures the server
	fmt.Printf("\nGenerating %d batches...\n", *batches)
	rng := rand.New(rand.NewSource(*seed))
	labeled := make([]LabeledBatch, 0, *batches)
	totalFraud := 0
	totalTx := 0
	for i := 0; i < *batches; i++ {
		b := generateBatch(rng, i, *batchSize, *fraudRate)
		totalFraud += len(b.FraudIDs)
		totalTx += b.Total
		labeled = append(labeled, b)
	}
	fmt.Printf("✓ Generated %d transactions (%d injected fraud)\n", totalTx, totalFraud)

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(labeled, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration, totalTx)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generateBatch builds one CSV batch. Clean rows use unique accounts and
// locations with non-round amounts below 5000, so none of the detection
// rules fire on them. Injected rows alternate between high-value and
// structuring amounts.
func generateBatch(rng *rand.Rand, batchNum, size int, fraudRate float64) LabeledBatch {
	var sb strings.Builder
	sb.WriteString("transaction_id,date,amount,account_id,merchant_name,transaction_type,location,ip_address\n")

	fraudIDs := make(map[string]bool)
	for i := 0; i < size; i++ {
		id := fmt.Sprintf("bench-%d-%d", batchNum, i)
		account := fmt.Sprintf("ACC-%d-%d", batchNum, i)
		location := fmt.Sprintf("City-%d-%d", batchNum, i)
		merchant := fmt.Sprintf("Merchant-%d", rng.Intn(20))
		date := fmt.Sprintf("2024-01-%02d", 1+rng.Intn(28))

		var amount float64
		if rng.Float64() < fraudRate {
			fraudIDs[id] = true
			if rng.Intn(2) == 0 {
				// High value: over 5000, never a round hundred
				amount = 5000 + float64(rng.Intn(15000)) + 0.37
			} else {
				// Structuring: round hundreds between 1000 and 5000
				amount = float64(1000 + 100*rng.Intn(41))
			}
		} else {
			// Clean: below 1000 with cents, never round
			amount = float64(10+rng.Intn(980)) + 0.13
		}

		fmt.Fprintf(&sb, "%s,%s,%.2f,%s,%s,purchase,%s,192.168.%d.%d\n",
			id, date, amount, account, merchant, location, rng.Intn(255), rng.Intn(255))
	}

	return LabeledBatch{CSV: sb.String(), Total: size, FraudIDs: fraudIDs}
}

func runBenchmark(batches []LabeledBatch, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledBatch, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for batch := range work {
				start := time.Now()
				result, err := analyzeBatch(client, baseURL, tenantID, batch.CSV)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.BatchesProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				flagged := make(map[string]bool)
				for _, s := range result.Result.TransactionDetails.SuspiciousTransactions {
					flagged[s.ID] = true
				}

				var tp, fp, fn int64
				for id := range flagged {
					if batch.FraudIDs[id] {
						tp++
					} else {
						fp++
					}
				}
				for id := range batch.FraudIDs {
					if !flagged[id] {
						fn++
					}
				}
				tn := int64(batch.Total) - tp - fp - fn

				atomic.AddInt64(&metrics.TruePositives, tp)
				atomic.AddInt64(&metrics.FalsePositives, fp)
				atomic.AddInt64(&metrics.TrueNegatives, tn)
				atomic.AddInt64(&metrics.FalseNegatives, fn)

				if verbose {
					fmt.Printf("batch %-12s | score %3d | flagged %3d/%3d injected | %4dms\n",
						result.AnalysisID,
						result.Result.OverallRiskScore,
						int(tp),
						len(batch.FraudIDs),
						elapsed,
					)
				}
			}
		}()
	}

	for _, b := range batches {
		work <- b
	}
	close(work)

	wg.Wait()

	return metrics
}

func analyzeBatch(client *http.Client, baseURL, tenantID, csvData string) (*AnalyzeResponse, error) {
	body, err := json.Marshal(AnalyzeRequest{CSV: csvData})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration, totalTx int) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Batches Processed:  %d\n", m.BatchesProcessed)
	fmt.Printf("   Total Transactions: %d\n", totalTx)
	fmt.Printf("   Errors:             %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Flagged      Clean")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged, how many were injected fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of injected fraud, how many were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.BatchesProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.BatchesProcessed)
		tps := float64(totalTx) / duration.Seconds()
		fmt.Printf("   Avg Batch:        %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
