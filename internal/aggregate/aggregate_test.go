package aggregate

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"onrampquotes/internal/record"
)

func row(crypto, region, provider, method string, amount float64, rank int64, fee float64) record.Row {
	return record.Row{
		CryptoCurrency:     crypto,
		Region:             region,
		Provider:           provider,
		PaymentMethod:      method,
		Amount:             amount,
		Rank:               rank,
		TotalFeePercentage: fee,
	}
}

func TestPriceBin_Edges(t *testing.T) {
	cases := map[float64]string{
		0:       BinLow,
		30:      BinLow,
		499.99:  BinLow,
		500:     BinMedium,
		4999:    BinMedium,
		5000:    BinHigh,
		29100:   BinHigh,
		30000.5: BinHigh,
		30001:   "",
		-1:      "",
	}
	for amount, want := range cases {
		if got := PriceBin(amount); got != want {
			t.Fatalf("PriceBin(%v) = %q, want %q", amount, got, want)
		}
	}
}

func TestByProvider_AveragesPerProviderAndBin(t *testing.T) {
	eth := "ETH (Mainnet)"
	in := []record.Row{
		row(eth, "DE", "Transak", "paypal", 30, 1, 4),
		row(eth, "DE", "Transak", "paypal", 100, 3, 2),
		row(eth, "DE", "Transak", "sepa-bank-transfer", 1100, 2, 1.5),
		row(eth, "DE", "MoonPay", "paypal", 100, 2, 5),
		row(eth, "DE", "MoonPay", "paypal", 40000, 1, 9), // outside every bin
	}

	out := ByProvider(in)
	if len(out) != 3 {
		t.Fatalf("want 3 buckets, got %d: %+v", len(out), out)
	}

	// sorted: provider within the Low bin, then the Medium bin
	if out[0].Provider != "MoonPay" || out[0].PriceBin != BinLow || out[0].Count != 1 {
		t.Fatalf("unexpected first bucket: %+v", out[0])
	}
	if out[1].Provider != "Transak" || out[1].PriceBin != BinLow || out[1].AvgRank != 2 || out[1].AvgFeePercentage != 3 || out[1].Count != 2 {
		t.Fatalf("unexpected Transak low bucket: %+v", out[1])
	}
	if out[2].PriceBin != BinMedium || out[2].PaymentMethod != "" {
		t.Fatalf("unexpected medium bucket: %+v", out[2])
	}
}

func TestSummarize_SplitsPaymentMethods(t *testing.T) {
	in := []record.Row{
		row("USDT (Ethereum)", "GB", "Ramp", "paypal", 100, 1, 2),
		row("USDT (Ethereum)", "GB", "Ramp", "rev-pay", 100, 3, 4),
	}

	if n := len(ByProvider(in)); n != 1 {
		t.Fatalf("collapsed: want 1 bucket, got %d", n)
	}
	want := []Summary{
		{Key: Key{CryptoCurrency: "USDT (Ethereum)", Region: "GB", PriceBin: BinLow, Provider: "Ramp", PaymentMethod: "paypal"}, AvgRank: 1, AvgFeePercentage: 2, Count: 1},
		{Key: Key{CryptoCurrency: "USDT (Ethereum)", Region: "GB", PriceBin: BinLow, Provider: "Ramp", PaymentMethod: "rev-pay"}, AvgRank: 3, AvgFeePercentage: 4, Count: 1},
	}
	if diff := cmp.Diff(want, Summarize(in)); diff != "" {
		t.Fatalf("Summarize mismatch (-want +got):\n%s", diff)
	}
}

func TestByProvider_BinOrderIsNumericNotLexical(t *testing.T) {
	in := []record.Row{
		row("ETH", "DE", "A", "", 10000, 1, 1),
		row("ETH", "DE", "A", "", 1000, 1, 1),
		row("ETH", "DE", "A", "", 10, 1, 1),
	}
	out := ByProvider(in)
	for i, want := range Bins {
		if out[i].PriceBin != want {
			t.Fatalf("position %d: want %q got %q", i, want, out[i].PriceBin)
		}
	}
}

func TestCheapest(t *testing.T) {
	in := []record.Row{
		row("ETH", "DE", "A", "", 100, 1, 3),
		row("ETH", "DE", "B", "", 100, 2, 2),
		row("ETH", "DE", "C", "", 100, 1, 2),
		row("ETH", "GB", "A", "", 100, 1, 7),
	}
	out := Cheapest(ByProvider(in))
	if len(out) != 2 {
		t.Fatalf("want 2 groups, got %d: %+v", len(out), out)
	}
	// B and C tie on fee; C has the better rank
	if out[0].Region != "DE" || out[0].Provider != "C" {
		t.Fatalf("unexpected DE winner: %+v", out[0])
	}
	if out[1].Region != "GB" || out[1].Provider != "A" {
		t.Fatalf("unexpected GB winner: %+v", out[1])
	}
}

func TestPairs(t *testing.T) {
	in := []record.Row{
		row("USDT", "GB", "A", "", 1, 1, 1),
		row("ETH", "DE", "A", "", 1, 1, 1),
		row("ETH", "DE", "B", "", 1, 1, 1),
	}
	want := [][2]string{{"ETH", "DE"}, {"USDT", "GB"}}
	if diff := cmp.Diff(want, Pairs(in)); diff != "" {
		t.Fatalf("Pairs mismatch (-want +got):\n%s", diff)
	}
}
