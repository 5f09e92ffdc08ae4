package aggregate

import (
	"sort"

	"onrampquotes/internal/record"
)

// Price bins group quotes by purchase size. Bounds are right-open.
const (
	BinLow    = "Low (0-499)"
	BinMedium = "Medium (500-4999)"
	BinHigh   = "High (5k+)"
)

// Bins lists the price bins in ascending order.
var Bins = []string{BinLow, BinMedium, BinHigh}

var binEdges = []float64{0, 500, 5000, 30001}

// PriceBin returns the bin for a fiat amount, or "" when it falls outside
// [0, 30001).
func PriceBin(amount float64) string {
	for i := 0; i < len(Bins); i++ {
		if amount >= binEdges[i] && amount < binEdges[i+1] {
			return Bins[i]
		}
	}
	return ""
}

func binIndex(bin string) int {
	for i, b := range Bins {
		if b == bin {
			return i
		}
	}
	return len(Bins)
}

// Key identifies a summary bucket. PaymentMethod is empty when payment
// methods are collapsed.
type Key struct {
	CryptoCurrency string `json:"crypto_currency"`
	Region         string `json:"region"`
	PriceBin       string `json:"price_bin"`
	Provider       string `json:"provider"`
	PaymentMethod  string `json:"payment_method,omitempty"`
}

// Summary averages rank and total fee percentage over a bucket.
// Lower AvgRank means the aggregator listed the provider earlier.
type Summary struct {
	Key
	AvgRank          float64 `json:"avg_rank"`
	AvgFeePercentage float64 `json:"avg_fee_percentage"`
	Count            int     `json:"count"`
}

type acc struct {
	rank, fee float64
	n         int
}

// Summarize buckets rows by (CryptoCurrency, Region, PriceBin, Provider,
// PaymentMethod). Rows outside every price bin are dropped. The result is
// sorted by crypto, region, bin order, provider and payment method.
func Summarize(rows []record.Row) []Summary {
	return summarize(rows, true)
}

// ByProvider is Summarize with the payment-method dimension collapsed.
func ByProvider(rows []record.Row) []Summary {
	return summarize(rows, false)
}

func summarize(rows []record.Row, byPaymentMethod bool) []Summary {
	buckets := make(map[Key]*acc)
	for _, r := range rows {
		bin := PriceBin(r.Amount)
		if bin == "" {
			continue
		}
		k := Key{CryptoCurrency: r.CryptoCurrency, Region: r.Region, PriceBin: bin, Provider: r.Provider}
		if byPaymentMethod {
			k.PaymentMethod = r.PaymentMethod
		}
		a, ok := buckets[k]
		if !ok {
			a = &acc{}
			buckets[k] = a
		}
		a.rank += float64(r.Rank)
		a.fee += r.TotalFeePercentage
		a.n++
	}

	out := make([]Summary, 0, len(buckets))
	for k, a := range buckets {
		out = append(out, Summary{
			Key:              k,
			AvgRank:          a.rank / float64(a.n),
			AvgFeePercentage: a.fee / float64(a.n),
			Count:            a.n,
		})
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Key, out[j].Key) })
	return out
}

// Cheapest keeps, for every (CryptoCurrency, Region, PriceBin), the summary
// with the lowest average fee. Ties go to the better average rank.
func Cheapest(summaries []Summary) []Summary {
	type group struct{ crypto, region, bin string }
	best := make(map[group]Summary)
	for _, s := range summaries {
		g := group{s.CryptoCurrency, s.Region, s.PriceBin}
		cur, ok := best[g]
		if !ok || s.AvgFeePercentage < cur.AvgFeePercentage ||
			(s.AvgFeePercentage == cur.AvgFeePercentage && s.AvgRank < cur.AvgRank) {
			best[g] = s
		}
	}
	out := make([]Summary, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Key, out[j].Key) })
	return out
}

// Pairs returns the distinct (CryptoCurrency, Region) combinations in rows,
// sorted.
func Pairs(rows []record.Row) [][2]string {
	seen := make(map[[2]string]struct{})
	for _, r := range rows {
		seen[[2]string{r.CryptoCurrency, r.Region}] = struct{}{}
	}
	out := make([][2]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

func less(a, b Key) bool {
	if a.CryptoCurrency != b.CryptoCurrency {
		return a.CryptoCurrency < b.CryptoCurrency
	}
	if a.Region != b.Region {
		return a.Region < b.Region
	}
	if a.PriceBin != b.PriceBin {
		return binIndex(a.PriceBin) < binIndex(b.PriceBin)
	}
	if a.Provider != b.Provider {
		return a.Provider < b.Provider
	}
	return a.PaymentMethod < b.PaymentMethod
}
