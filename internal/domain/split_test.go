package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanDeduction_ReservedStage(t *testing.T) {
	tests := []struct {
		name             string
		in               SplitInput
		wantReserved     string
		wantUnrestricted string
		wantReleased     string
		wantKind         ErrorKind
	}{
		{
			name:         "requirement within reservation",
			in:           SplitInput{Required: dec("6"), DocReserved: dec("10"), Reserved: dec("20"), Unrestricted: dec("100")},
			wantReserved: "6", wantUnrestricted: "0", wantReleased: "4",
		},
		{
			name:         "requirement equals reservation",
			in:           SplitInput{Required: dec("10"), DocReserved: dec("10"), Reserved: dec("20"), Unrestricted: dec("100")},
			wantReserved: "10", wantUnrestricted: "0", wantReleased: "0",
		},
		{
			name:         "requirement above reservation",
			in:           SplitInput{Required: dec("15"), DocReserved: dec("10"), Reserved: dec("20"), Unrestricted: dec("100")},
			wantReserved: "10", wantUnrestricted: "5", wantReleased: "0",
		},
		{
			name:         "record holds less than document reserved",
			in:           SplitInput{Required: dec("8"), DocReserved: dec("10"), Reserved: dec("6"), Unrestricted: dec("100")},
			wantReserved: "6", wantUnrestricted: "2", wantReleased: "0",
		},
		{
			name:         "no reservation draws unrestricted",
			in:           SplitInput{Required: dec("8"), DocReserved: dec("0"), Reserved: dec("20"), Unrestricted: dec("100")},
			wantReserved: "0", wantUnrestricted: "8", wantReleased: "0",
		},
		{
			name:         "release limited by record",
			in:           SplitInput{Required: dec("2"), DocReserved: dec("10"), Reserved: dec("5"), Unrestricted: dec("0")},
			wantReserved: "2", wantUnrestricted: "0", wantReleased: "3",
		},
		{
			name:     "insufficient unrestricted",
			in:       SplitInput{Label: "MAT-1", Required: dec("15"), DocReserved: dec("10"), Reserved: dec("20"), Unrestricted: dec("3")},
			wantKind: KindInsufficientUnrestricted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := PlanDeduction(StageReserved, tt.in)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assertDecimal(t, tt.wantReserved, split.FromReserved)
			assertDecimal(t, tt.wantUnrestricted, split.FromUnrestricted)
			assertDecimal(t, tt.wantReleased, split.Released)
		})
	}
}

func TestPlanDeduction_InsufficientMessage(t *testing.T) {
	_, err := PlanDeduction(StageReserved, SplitInput{
		Label: "WIDGET-9", Required: dec("8"), DocReserved: dec("0"), Reserved: dec("0"), Unrestricted: dec("5"),
	})
	require.Error(t, err)
	assert.Equal(t, "Insufficient unrestricted quantity for WIDGET-9. Available: 5, Required: 8", err.Error())
	assert.ErrorIs(t, err, ErrInsufficientUnrestricted)
}

func TestPlanDeduction_CompletedStage(t *testing.T) {
	tests := []struct {
		name             string
		in               SplitInput
		wantReserved     string
		wantUnrestricted string
		wantKind         ErrorKind
	}{
		{
			name:         "unrestricted covers",
			in:           SplitInput{Required: dec("8"), DocReserved: dec("8"), Reserved: dec("20"), Unrestricted: dec("10")},
			wantReserved: "0", wantUnrestricted: "8",
		},
		{
			name:         "falls back to reserved",
			in:           SplitInput{Required: dec("8"), Reserved: dec("20"), Unrestricted: dec("5")},
			wantReserved: "3", wantUnrestricted: "5",
		},
		{
			name:     "insufficient reserved",
			in:       SplitInput{Required: dec("30"), Reserved: dec("20"), Unrestricted: dec("5")},
			wantKind: KindInsufficientReserved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := PlanDeduction(StageCompleted, tt.in)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assertDecimal(t, tt.wantReserved, split.FromReserved)
			assertDecimal(t, tt.wantUnrestricted, split.FromUnrestricted)
			assertDecimal(t, "0", split.Released)
		})
	}
}

func TestPlanReservation(t *testing.T) {
	tests := []struct {
		name        string
		in          SplitInput
		wantReserve string
		wantRelease string
		wantErr     bool
	}{
		{name: "new reservation", in: SplitInput{Required: dec("5"), Unrestricted: dec("10")}, wantReserve: "5", wantRelease: "0"},
		{name: "grow", in: SplitInput{Required: dec("8"), DocReserved: dec("5"), Reserved: dec("5"), Unrestricted: dec("10")}, wantReserve: "3", wantRelease: "0"},
		{name: "shrink", in: SplitInput{Required: dec("2"), DocReserved: dec("5"), Reserved: dec("5"), Unrestricted: dec("10")}, wantReserve: "0", wantRelease: "3"},
		{name: "shrink capped by record", in: SplitInput{Required: dec("0"), DocReserved: dec("5"), Reserved: dec("1")}, wantReserve: "0", wantRelease: "1"},
		{name: "unchanged", in: SplitInput{Required: dec("5"), DocReserved: dec("5"), Reserved: dec("5")}, wantReserve: "0", wantRelease: "0"},
		{name: "not enough unrestricted", in: SplitInput{Required: dec("12"), Unrestricted: dec("10")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanReservation(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInsufficientUnrestricted)
				return
			}
			require.NoError(t, err)
			assertDecimal(t, tt.wantReserve, plan.Reserve)
			assertDecimal(t, tt.wantRelease, plan.Release)
		})
	}
}

func TestDistributeSerialSplit_ThreeSerials(t *testing.T) {
	serials := []SerialStock{
		{SerialNo: "SN-1", Required: dec("1"), Unrestricted: dec("1"), Reserved: dec("0")},
		{SerialNo: "SN-2", Required: dec("1"), Unrestricted: dec("0"), Reserved: dec("1")},
		{SerialNo: "SN-3", Required: dec("1"), Unrestricted: dec("0"), Reserved: dec("1")},
	}

	split, err := PlanDeduction(StageReserved, SplitInput{
		Required: dec("3"), DocReserved: dec("2"), Reserved: dec("2"), Unrestricted: dec("1"), Releasable: dec("2"),
	})
	require.NoError(t, err)
	assertDecimal(t, "2", split.FromReserved)
	assertDecimal(t, "1", split.FromUnrestricted)

	draws := DistributeSerialSplit(split, serials)
	require.Len(t, draws, 3)

	assertDecimal(t, "0", draws[0].FromReserved)
	assertDecimal(t, "1", draws[0].FromUnrestricted)
	assertDecimal(t, "1", draws[1].FromReserved)
	assertDecimal(t, "0", draws[1].FromUnrestricted)
	assertDecimal(t, "1", draws[2].FromReserved)
	assertDecimal(t, "0", draws[2].FromUnrestricted)
	for _, d := range draws {
		assert.False(t, d.Clamped, d.SerialNo)
	}
}

func TestDistributeSerialSplit_ClampsWhenSerialLacksStock(t *testing.T) {
	serials := []SerialStock{
		{SerialNo: "SN-1", Required: dec("1"), Unrestricted: dec("0"), Reserved: dec("0")},
		{SerialNo: "SN-2", Required: dec("1"), Unrestricted: dec("2"), Reserved: dec("0")},
	}
	split := Split{FromUnrestricted: dec("2")}

	draws := DistributeSerialSplit(split, serials)
	require.Len(t, draws, 2)

	assert.True(t, draws[0].Clamped)
	assertDecimal(t, "1", draws[0].FromUnrestricted)
	assert.False(t, draws[1].Clamped)
	assertDecimal(t, "1", draws[1].FromUnrestricted)
}

func TestDistributeRelease(t *testing.T) {
	serials := []SerialStock{
		{SerialNo: "SN-9", Reserved: dec("1")},
		{SerialNo: "SN-1", Reserved: dec("0")},
		{SerialNo: "SN-2", Reserved: dec("1")},
	}

	out := DistributeRelease(dec("1.5"), serials)
	assert.Len(t, out, 2)
	assertDecimal(t, "1", out["SN-9"])
	assertDecimal(t, "0.5", out["SN-2"])
}
