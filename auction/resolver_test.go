package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marketplace/money"
)

func TestResolveProxy(t *testing.T) {
	flat50 := Ladder{{Increment: 50}}
	tests := []struct {
		name       string
		previous   money.Cents
		challenger money.Cents
		ladder     Ladder
		want       Outcome
	}{
		{
			name:     "tie favors the incumbent",
			previous: 500, challenger: 500, ladder: flat50,
			want: Outcome{Winner: WinnerPrevious, ClearingPrice: 500},
		},
		{
			name:     "challenger wins one increment above",
			previous: 500, challenger: 560, ladder: flat50,
			want: Outcome{Winner: WinnerChallenger, ClearingPrice: 550},
		},
		{
			name:     "challenger capped at own ceiling",
			previous: 500, challenger: 520, ladder: flat50,
			want: Outcome{Winner: WinnerChallenger, ClearingPrice: 520},
		},
		{
			name:     "previous wins one increment above challenger",
			previous: 1000, challenger: 600, ladder: flat50,
			want: Outcome{Winner: WinnerPrevious, ClearingPrice: 650},
		},
		{
			name:     "previous capped at own ceiling",
			previous: 620, challenger: 600, ladder: flat50,
			want: Outcome{Winner: WinnerPrevious, ClearingPrice: 620},
		},
		{
			name:     "increment taken at the lower ceiling",
			previous: 900, challenger: 5000, ladder: DefaultLadder,
			want: Outcome{Winner: WinnerChallenger, ClearingPrice: 950},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveProxy(tt.previous, tt.challenger, tt.ladder)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, got.ClearingPrice, max(tt.previous, tt.challenger))
		})
	}
}

func TestWinner_String(t *testing.T) {
	assert.Equal(t, "previous", WinnerPrevious.String())
	assert.Equal(t, "challenger", WinnerChallenger.String())
}
