package services

import (
	"testing"
	"time"

	"marketplace-bidding/internal/config"
	"marketplace-bidding/internal/domain"

	"github.com/peterldowns/testy/check"
)

func TestMinimumBid(t *testing.T) {
	tests := []struct {
		name string
		bids []*domain.Bid
		want string
	}{
		{"no bids uses starting price", nil, "1100"},
		{"highest recorded amount", []*domain.Bid{{Amount: d("1200")}, {Amount: d("1500")}, {Amount: d("1300")}}, "1600"},
		{"bids below starting price are ignored", []*domain.Bid{{Amount: d("900")}}, "1100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkAmount(t, tt.want, MinimumBid(activeAuction(), tt.bids))
		})
	}
}

func TestIsInSnipeWindow(t *testing.T) {
	a := activeAuction()
	end := a.EndTime

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"two minutes before end", end.Add(-2 * time.Minute), true},
		{"exactly at threshold", end.Add(-5 * time.Minute), true},
		{"just outside threshold", end.Add(-5*time.Minute - time.Second), false},
		{"ten minutes before end", end.Add(-10 * time.Minute), false},
		{"at the deadline", end, false},
		{"after the deadline", end.Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.want, IsInSnipeWindow(a, tt.now))
		})
	}
}

func TestExtendedEndTime(t *testing.T) {
	a := activeAuction()
	check.Equal(t, a.EndTime.Add(5*time.Minute), ExtendedEndTime(a))
}

func TestReserveSatisfied(t *testing.T) {
	check.True(t, ReserveSatisfied(activeAuction()))

	below := activeAuction(func(a *domain.Auction) {
		a.ReservePrice = nd("5000")
		a.CurrentPrice = d("4000")
	})
	check.False(t, ReserveSatisfied(below))

	at := activeAuction(func(a *domain.Auction) {
		a.ReservePrice = nd("5000")
		a.CurrentPrice = d("5000")
	})
	check.True(t, ReserveSatisfied(at))
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	checkAmount(t, "0.05", s.CommissionRate)
	check.Equal(t, 5*time.Minute, s.DefaultSnipeThreshold)
	check.Equal(t, 5*time.Minute, s.DefaultSnipeExtension)
}

func TestSettingsFromConfig(t *testing.T) {
	s := SettingsFromConfig(config.BiddingConfig{
		CommissionRate:        0.075,
		DefaultSnipeThreshold: 2 * time.Minute,
		DefaultSnipeExtension: time.Minute,
	})
	checkAmount(t, "0.075", s.CommissionRate)
	check.Equal(t, 2*time.Minute, s.DefaultSnipeThreshold)
	check.Equal(t, time.Minute, s.DefaultSnipeExtension)
}
