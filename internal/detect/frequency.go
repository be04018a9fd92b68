package detect

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// MerchantStats aggregates activity for one merchant.
type MerchantStats struct {
	Count       int
	TotalAmount float64
}

// FrequencyTables holds the aggregates built in a single pass over the
// batch. Returned as a value object so each detection stage stays
// testable in isolation.
type FrequencyTables struct {
	// Accounts maps accountID to transaction count.
	Accounts map[string]int

	// Merchants maps merchant name to count and total amount.
	Merchants map[string]*MerchantStats

	// Locations maps location to the set of distinct accounts seen there.
	Locations map[string]map[string]struct{}

	// IPs maps IP address to transaction count.
	IPs map[string]int
}

// BuildFrequencyTables aggregates the batch in one forward pass.
func BuildFrequencyTables(txs []domain.Transaction) *FrequencyTables {
	t := &FrequencyTables{
		Accounts:  make(map[string]int),
		Merchants: make(map[string]*MerchantStats),
		Locations: make(map[string]map[string]struct{}),
		IPs:       make(map[string]int),
	}
	for _, tx := range txs {
		t.Accounts[tx.AccountID]++

		m := t.Merchants[tx.MerchantName]
		if m == nil {
			m = &MerchantStats{}
			t.Merchants[tx.MerchantName] = m
		}
		m.Count++
		m.TotalAmount += tx.Amount

		accounts := t.Locations[tx.Location]
		if accounts == nil {
			accounts = make(map[string]struct{})
			t.Locations[tx.Location] = accounts
		}
		accounts[tx.AccountID] = struct{}{}

		t.IPs[tx.IPAddress]++
	}
	return t
}

// DistinctAccounts returns the number of distinct accounts observed at
// a location.
func (t *FrequencyTables) DistinctAccounts(location string) int {
	return len(t.Locations[location])
}
