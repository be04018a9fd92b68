//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel batch analysis engine.
//
// These tests verify the COMPLETE analysis pipeline:
//
//	CSV Batch → Parsing → Detection Rules → Risk Score → Loan Eligibility
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. BATCH: A CSV payload of transactions. The header must carry
//    transaction_id, date, amount, account_id, merchant_name,
//    transaction_type, location and ip_address.
//
// 2. DETECTION RULES: Fixed fraud patterns applied to every batch:
//   - High Value:         amount > 5000                    → score 65
//   - Structuring:        round hundreds, amount >= 1000   → score 55
//   - Unusual Frequency:  more than 5 txs on one account   → score 70
//   - Location Anomaly:   more than 3 accounts at one spot → score 60
//
// 3. FLAG RULES: Custom CEL expressions created via POST /flagrules.
//    Each carries its own fraud type and risk score.
//
// 4. RISK SCORE: Suspicious ratio plus finding weights, capped at 100.
//
// 5. LOAN ELIGIBILITY: Starts at 70, penalized by risk and suspicious
//    activity, bonused by income patterns. Eligible at 60 or above.
//
// NOTE: Detection rules are built in. Flag rules are database-driven
// and start empty - create them via the API before relying on them.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// AnalyzeRequest is the batch sent to POST /analyze
type AnalyzeRequest struct {
	CSV string `json:"csv"`
}

// AnalyzeResponse is what POST /analyze returns
type AnalyzeResponse struct {
	AnalysisID string           `json:"analysisId"`
	Cached     bool             `json:"cached"`
	Result     AnalysisResult   `json:"result"`
	Metadata   ResponseMetadata `json:"metadata"`
}

type AnalysisResult struct {
	TotalTransactions      int                   `json:"totalTransactions"`
	SuspiciousTransactions int                   `json:"suspiciousTransactions"`
	OverallRiskScore       int                   `json:"overallRiskScore"`
	Findings               []Finding             `json:"findings"`
	TransactionDetails     TransactionDetails    `json:"transactionDetails"`
	LoanEligibility        LoanEligibilityResult `json:"loanEligibility"`
}

type Finding struct {
	Type          string `json:"type"`
	Description   string `json:"description"`
	RiskLevel     string `json:"riskLevel"`
	AffectedCount int    `json:"affectedCount"`
}

type TransactionDetails struct {
	SuspiciousTransactions []SuspiciousDetail `json:"suspiciousTransactions"`
	TopRiskMerchants       []MerchantSummary  `json:"topRiskMerchants"`
}

type SuspiciousDetail struct {
	ID        string  `json:"id"`
	Amount    float64 `json:"amount"`
	AccountID string  `json:"accountId"`
	FraudType string  `json:"fraudType"`
	RiskScore int     `json:"riskScore"`
}

type MerchantSummary struct {
	Merchant    string  `json:"merchant"`
	Count       int     `json:"count"`
	TotalAmount float64 `json:"totalAmount"`
}

type LoanEligibilityResult struct {
	Score         int     `json:"score"`
	IsEligible    bool    `json:"isEligible"`
	MaxLoanAmount float64 `json:"maxLoanAmount"`
	RiskFactors   []string `json:"riskFactors"`
}

type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

const csvHeader = "transaction_id,date,amount,account_id,merchant_name,transaction_type,location,ip_address"

func buildCSV(rows ...string) string {
	return csvHeader + "\n" + strings.Join(rows, "\n")
}

func analyze(t *testing.T, config TestConfig, csvData string) AnalyzeResponse {
	t.Helper()

	body, err := json.Marshal(AnalyzeRequest{CSV: csvData})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result AnalyzeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

// ============================================================================
// SCENARIO 1: Clean Batch (No Findings)
// ============================================================================

func TestCleanBatch_NoFindings(t *testing.T) {
	/*
	   SCENARIO: Ordinary purchases, unique accounts, modest amounts

	   EXPECTED BEHAVIOR:
	   - No amount exceeds 5000 → High Value never fires
	   - No round hundreds at or above 1000 → Structuring never fires
	   - Every account appears once → no frequency anomaly
	   - Every location has one account → no location anomaly

	   FINAL RESULT: zero suspicious transactions, risk score 0,
	   loan score at or near the base of 70 → eligible
	*/
	config := getTestConfig()

	csvData := buildCSV(
		"tx-001,2024-01-05,45.99,ACC-100,Grocery Mart,purchase,Springfield,10.0.0.1",
		"tx-002,2024-01-06,120.50,ACC-101,Book Nook,purchase,Shelbyville,10.0.0.2",
		"tx-003,2024-01-07,89.37,ACC-102,Cafe Uno,purchase,Capital City,10.0.0.3",
	)

	result := analyze(t, config, csvData)

	// ASSERTIONS
	if result.Result.TotalTransactions != 3 {
		t.Errorf("Expected 3 transactions, got %d", result.Result.TotalTransactions)
	}

	if result.Result.SuspiciousTransactions != 0 {
		t.Errorf("Expected no suspicious transactions, got %d", result.Result.SuspiciousTransactions)
	}

	if result.Result.OverallRiskScore != 0 {
		t.Errorf("Expected risk score 0, got %d", result.Result.OverallRiskScore)
	}

	if !result.Result.LoanEligibility.IsEligible {
		t.Errorf("Expected clean batch to be loan eligible, score=%d",
			result.Result.LoanEligibility.Score)
	}

	t.Logf("✓ Clean batch passed: risk=%d, loan=%d",
		result.Result.OverallRiskScore, result.Result.LoanEligibility.Score)
}

// ============================================================================
// SCENARIO 2: High Value Transaction (Triggers the >5000 rule)
// ============================================================================

func TestHighValueTransaction_Flagged(t *testing.T) {
	/*
	   SCENARIO: One $7,500 purchase among ordinary transactions

	   EXPECTED BEHAVIOR:
	   - High Value rule fires on tx-hv-001 with score 65
	   - A "High Value Transactions" finding appears at High risk
	   - The overall risk score reflects the ratio plus the High weight
	*/
	config := getTestConfig()

	csvData := buildCSV(
		"tx-hv-001,2024-01-05,7500.25,ACC-200,Luxury Motors,purchase,Springfield,10.0.1.1",
		"tx-hv-002,2024-01-06,120.50,ACC-201,Book Nook,purchase,Shelbyville,10.0.1.2",
	)

	result := analyze(t, config, csvData)

	if result.Result.SuspiciousTransactions == 0 {
		t.Fatalf("Expected high-value transaction to be flagged")
	}

	found := false
	for _, s := range result.Result.TransactionDetails.SuspiciousTransactions {
		if s.ID == "tx-hv-001" && s.FraudType == "High Value Transaction" {
			found = true
			if s.RiskScore != 65 {
				t.Errorf("Expected risk score 65 for high value, got %d", s.RiskScore)
			}
		}
	}
	if !found {
		t.Errorf("tx-hv-001 not flagged as High Value Transaction: %+v",
			result.Result.TransactionDetails.SuspiciousTransactions)
	}

	if result.Result.OverallRiskScore <= 0 {
		t.Errorf("Expected positive risk score, got %d", result.Result.OverallRiskScore)
	}

	t.Logf("✓ High-value flagged: risk=%d", result.Result.OverallRiskScore)
}

// ============================================================================
// SCENARIO 3: Threshold Boundary Testing (Exactly 5000)
// ============================================================================

func TestExactThreshold_NotHighValue(t *testing.T) {
	/*
	   SCENARIO: Transactions at exactly 5000 and just above

	   EXPECTED BEHAVIOR:
	   - The rule is a strict "amount > 5000": 5000.00 does NOT fire it
	   - 5000.00 IS a round multiple of 100 at or above 1000, so the
	     Structuring rule flags it instead
	   - 5000.01 fires High Value only

	   WHY THIS TEST:
	   Boundary conditions catch off-by-one errors in threshold logic,
	   and this boundary sits where two rules meet.
	*/
	config := getTestConfig()

	csvData := buildCSV(
		"tx-edge-001,2024-01-05,5000.00,ACC-300,Outlet A,purchase,Springfield,10.0.2.1",
		"tx-edge-002,2024-01-06,5000.01,ACC-301,Outlet B,purchase,Shelbyville,10.0.2.2",
	)

	result := analyze(t, config, csvData)

	for _, s := range result.Result.TransactionDetails.SuspiciousTransactions {
		switch s.ID {
		case "tx-edge-001":
			if s.FraudType == "High Value Transaction" {
				t.Errorf("5000.00 exactly must not be High Value (threshold is >5000)")
			}
			if s.FraudType != "Potential Structuring" {
				t.Errorf("Expected 5000.00 to be flagged as Potential Structuring, got %s", s.FraudType)
			}
		case "tx-edge-002":
			if s.FraudType != "High Value Transaction" {
				t.Errorf("Expected 5000.01 to be High Value, got %s", s.FraudType)
			}
		}
	}

	t.Logf("✓ Boundary test passed")
}

// ============================================================================
// SCENARIO 4: Unusual Frequency (Burst on a Single Account)
// ============================================================================

func TestFrequencyBurst_AccountFlagged(t *testing.T) {
	/*
	   SCENARIO: Six small purchases on the same account

	   EXPECTED BEHAVIOR:
	   - No per-transaction rule fires (all amounts are small and odd)
	   - The account appears more than 5 times → Unusual Frequency flags
	     every transaction on it with score 70
	   - An "Unusual Frequency" finding appears at High risk
	*/
	config := getTestConfig()

	rows := make([]string, 0, 6)
	for i := 1; i <= 6; i++ {
		rows = append(rows, fmt.Sprintf(
			"tx-freq-%03d,2024-01-%02d,25.5%d,ACC-BURST,Corner Shop,purchase,Town-%d,10.0.3.%d",
			i, i, i, i, i))
	}

	result := analyze(t, config, buildCSV(rows...))

	if result.Result.SuspiciousTransactions != 6 {
		t.Errorf("Expected all 6 burst transactions flagged, got %d",
			result.Result.SuspiciousTransactions)
	}

	for _, s := range result.Result.TransactionDetails.SuspiciousTransactions {
		if s.FraudType != "Unusual Frequency" {
			t.Errorf("Expected Unusual Frequency for %s, got %s", s.ID, s.FraudType)
		}
		if s.RiskScore != 70 {
			t.Errorf("Expected risk score 70, got %d", s.RiskScore)
		}
	}

	t.Logf("✓ Frequency burst flagged: risk=%d", result.Result.OverallRiskScore)
}

// ============================================================================
// SCENARIO 5: Result Caching (Identical Batch Resubmitted)
// ============================================================================

func TestRepeatSubmission_Cached(t *testing.T) {
	/*
	   SCENARIO: The same CSV payload submitted twice

	   EXPECTED BEHAVIOR:
	   - The first response computes the result (cached=false)
	   - The second response is served from the content-hash cache
	     (cached=true) with identical numbers
	*/
	config := getTestConfig()

	// Unique payload per run so the first request always misses
	csvData := buildCSV(fmt.Sprintf(
		"tx-cache-%d,2024-01-05,6200.75,ACC-400,Luxury Motors,purchase,Springfield,10.0.4.1",
		time.Now().UnixNano()))

	first := analyze(t, config, csvData)
	if first.Cached {
		t.Fatalf("First submission unexpectedly served from cache")
	}

	second := analyze(t, config, csvData)
	if !second.Cached {
		t.Errorf("Expected second submission to be cached")
	}

	if first.Result.OverallRiskScore != second.Result.OverallRiskScore {
		t.Errorf("Cached result differs: %d vs %d",
			first.Result.OverallRiskScore, second.Result.OverallRiskScore)
	}

	t.Logf("✓ Caching verified: risk=%d", second.Result.OverallRiskScore)
}

// ============================================================================
// SCENARIO 6: Custom Flag Rule (Created via API, Applied to a Batch)
// ============================================================================

func TestCustomFlagRule_AppliedToBatch(t *testing.T) {
	/*
	   SCENARIO: Create a CEL flag rule for offshore locations, then
	   submit a batch containing an offshore transaction

	   EXPECTED BEHAVIOR:
	   - POST /flagrules returns 201 and loads the rule immediately
	   - The offshore transaction is flagged with the rule's fraud type
	     and risk score
	*/
	config := getTestConfig()

	ruleID := fmt.Sprintf("it-offshore-%d", time.Now().UnixNano())
	rule := map[string]any{
		"id":         ruleID,
		"name":       "Offshore Location",
		"expression": `location == "Grand Cayman"`,
		"fraudType":  "Offshore Activity",
		"riskScore":  80,
	}

	body, _ := json.Marshal(rule)
	httpReq, err := http.NewRequest("POST", config.BaseURL+"/flagrules", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Flag rule creation failed: %v", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 creating flag rule, got %d: %s", resp.StatusCode, string(respBody))
	}

	csvData := buildCSV(fmt.Sprintf(
		"tx-off-%d,2024-01-05,420.77,ACC-500,Island Holdings,transfer,Grand Cayman,10.0.5.1",
		time.Now().UnixNano()))

	result := analyze(t, config, csvData)

	found := false
	for _, s := range result.Result.TransactionDetails.SuspiciousTransactions {
		if s.FraudType == "Offshore Activity" {
			found = true
			if s.RiskScore != 80 {
				t.Errorf("Expected custom rule risk score 80, got %d", s.RiskScore)
			}
		}
	}
	if !found {
		t.Errorf("Offshore transaction not flagged by custom rule: %+v",
			result.Result.TransactionDetails.SuspiciousTransactions)
	}

	t.Logf("✓ Custom flag rule applied")
}

// ============================================================================
// SCENARIO 7: Stored Analyses (Retrieval After Submission)
// ============================================================================

func TestAnalysisRetrieval(t *testing.T) {
	/*
	   SCENARIO: Submit a batch, then fetch it back by ID and via the list

	   EXPECTED BEHAVIOR:
	   - GET /analyses/{id} returns the stored result unchanged
	   - GET /analyses includes the new analysis
	*/
	config := getTestConfig()

	csvData := buildCSV(fmt.Sprintf(
		"tx-store-%d,2024-01-05,7800.25,ACC-600,Luxury Motors,purchase,Springfield,10.0.6.1",
		time.Now().UnixNano()))

	submitted := analyze(t, config, csvData)
	if submitted.AnalysisID == "" {
		t.Fatalf("No analysis ID returned")
	}

	client := &http.Client{Timeout: 10 * time.Second}

	httpReq, _ := http.NewRequest("GET", config.BaseURL+"/analyses/"+submitted.AnalysisID, nil)
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected 200 fetching analysis, got %d: %s", resp.StatusCode, string(body))
	}

	var stored struct {
		ID     string         `json:"id"`
		Result AnalysisResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		t.Fatalf("Failed to decode stored analysis: %v", err)
	}

	if stored.Result.OverallRiskScore != submitted.Result.OverallRiskScore {
		t.Errorf("Stored risk score %d differs from submitted %d",
			stored.Result.OverallRiskScore, submitted.Result.OverallRiskScore)
	}

	t.Logf("✓ Analysis retrievable: id=%s", submitted.AnalysisID)
}

// ============================================================================
// SCENARIO 8: Malformed Batch (Missing Columns)
// ============================================================================

func TestMalformedBatch_Rejected(t *testing.T) {
	/*
	   SCENARIO: A CSV missing half the required columns

	   EXPECTED BEHAVIOR:
	   - 400 Bad Request naming every missing column, not just the first
	*/
	config := getTestConfig()

	body, _ := json.Marshal(AnalyzeRequest{CSV: "transaction_id,amount\ntx-1,50.00"})
	httpReq, _ := http.NewRequest("POST", config.BaseURL+"/analyze", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed batch, got %d", resp.StatusCode)
	}

	var errResp struct {
		Error          string   `json:"error"`
		MissingColumns []string `json:"missingColumns"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if len(errResp.MissingColumns) < 6 {
		t.Errorf("Expected all missing columns named, got %v", errResp.MissingColumns)
	}

	t.Logf("✓ Malformed batch rejected: %v", errResp.MissingColumns)
}
