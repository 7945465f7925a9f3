package arbitrage

import (
	"sort"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// RankOrderbooks orders two-sided books by best ask ascending and by best bid
// descending. Books missing either side are left out of both lists.
func RankOrderbooks(books []domain.Orderbook) (byAsk, byBid []domain.Orderbook) {
	for _, b := range books {
		if !b.TwoSided() {
			continue
		}
		byAsk = append(byAsk, b)
		byBid = append(byBid, b)
	}
	sort.SliceStable(byAsk, func(i, j int) bool { return byAsk[i].Asks[0].Price < byAsk[j].Asks[0].Price })
	sort.SliceStable(byBid, func(i, j int) bool { return byBid[i].Bids[0].Price > byBid[j].Bids[0].Price })
	return byAsk, byBid
}

// Spread is (bid-ask)/bid between the best ask of askBook and the best bid of
// bidBook.
func Spread(askBook, bidBook domain.Orderbook) float64 {
	bid := bidBook.Bids[0].Price
	if bid <= 0 {
		return 0
	}
	return (bid - askBook.Asks[0].Price) / bid
}
