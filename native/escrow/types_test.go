package escrow

import (
	"math/big"
	"testing"
)

func TestAssetKindNormalize(t *testing.T) {
	cases := []struct {
		name    string
		in      AssetKind
		want    string
		wantErr bool
	}{
		{"native", AssetKind{Class: AssetNative}, "native", false},
		{"native with symbol", AssetKind{Class: AssetNative, Token: "XYZ"}, "", true},
		{"token", AssetKind{Class: AssetToken, Token: "btk"}, "token:BTK", false},
		{"token padded", AssetKind{Class: AssetToken, Token: "  usd  "}, "token:USD", false},
		{"token without symbol", AssetKind{Class: AssetToken}, "", true},
		{"token blank symbol", AssetKind{Class: AssetToken, Token: "   "}, "", true},
		{"unknown class", AssetKind{Class: AssetClass(9)}, "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.Normalize()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("got %s, want %s", got.String(), tc.want)
			}
		})
	}
}

func TestStatusDerivation(t *testing.T) {
	leg := func(deposited, confirmed bool) AssetLeg {
		return AssetLeg{Asset: NativeAsset(), Amount: big.NewInt(1), Deposited: deposited, Confirmed: confirmed}
	}

	cases := []struct {
		name string
		esc  Escrow
		want Status
	}{
		{"fresh", Escrow{SellerLeg: leg(false, false), BuyerLeg: leg(false, false)}, StatusCreated},
		{"seller funded", Escrow{SellerLeg: leg(true, false), BuyerLeg: leg(false, false)}, StatusSellerDeposited},
		{"buyer funded", Escrow{SellerLeg: leg(false, false), BuyerLeg: leg(true, false)}, StatusBuyerDeposited},
		{"both funded", Escrow{SellerLeg: leg(true, false), BuyerLeg: leg(true, false)}, StatusFullyFunded},
		{"seller confirmed", Escrow{SellerLeg: leg(true, true), BuyerLeg: leg(true, false)}, StatusSellerConfirmed},
		{"buyer confirmed", Escrow{SellerLeg: leg(true, false), BuyerLeg: leg(true, true)}, StatusBuyerConfirmed},
		{"both confirmed", Escrow{SellerLeg: leg(true, true), BuyerLeg: leg(true, true)}, StatusCompleted},
		{"completed timestamp", Escrow{SellerLeg: leg(true, true), BuyerLeg: leg(true, true), CompletedAt: 42}, StatusCompleted},
		{"cancelled wins", Escrow{SellerLeg: leg(true, false), BuyerLeg: leg(false, false), Cancelled: true}, StatusCancelled},
		{"refunded wins", Escrow{SellerLeg: leg(true, false), BuyerLeg: leg(true, false), Refunded: true}, StatusRefunded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.esc.Status(); got != tc.want {
				t.Fatalf("status = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted: true,
		StatusCancelled: true,
		StatusRefunded:  true,
	}
	all := []Status{
		StatusCreated, StatusSellerDeposited, StatusBuyerDeposited, StatusFullyFunded,
		StatusSellerConfirmed, StatusBuyerConfirmed, StatusCompleted, StatusCancelled, StatusRefunded,
	}
	for _, s := range all {
		if got := s.Terminal(); got != terminal[s] {
			t.Fatalf("%s.Terminal() = %v, want %v", s, got, terminal[s])
		}
	}
}

func TestDisputeFlagOrthogonalToStatus(t *testing.T) {
	esc := Escrow{
		SellerLeg: AssetLeg{Asset: NativeAsset(), Amount: big.NewInt(1), Deposited: true},
		BuyerLeg:  AssetLeg{Asset: NativeAsset(), Amount: big.NewInt(1), Deposited: true},
	}
	before := esc.Status()
	esc.Disputed = true
	esc.DisputeReason = "contested"
	if esc.Status() != before {
		t.Fatalf("dispute flag changed status from %s to %s", before, esc.Status())
	}
}

func TestEscrowCloneIsDeep(t *testing.T) {
	original := &Escrow{
		SellerLeg:  AssetLeg{Asset: NativeAsset(), Amount: big.NewInt(100)},
		BuyerLeg:   AssetLeg{Asset: TokenAsset("BTK"), Amount: big.NewInt(50)},
		SellerHost: "a",
		BuyerHost:  "b",
	}
	clone := original.Clone()
	clone.SellerLeg.Amount.SetInt64(999)
	clone.BuyerLeg.Deposited = true
	if original.SellerLeg.Amount.Int64() != 100 {
		t.Fatalf("clone shares seller amount")
	}
	if original.BuyerLeg.Deposited {
		t.Fatalf("clone shares leg flags")
	}
}

func TestSanitize(t *testing.T) {
	base := func() *Escrow {
		return &Escrow{
			SellerLeg:  AssetLeg{Asset: NativeAsset(), Amount: big.NewInt(10)},
			BuyerLeg:   AssetLeg{Asset: AssetKind{Class: AssetToken, Token: " btk "}, Amount: big.NewInt(5)},
			SellerHost: "  ledger-1  ",
			BuyerHost:  "ledger-2",
		}
	}

	clean, err := Sanitize(base())
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean.SellerHost != "ledger-1" {
		t.Fatalf("host not trimmed: %q", clean.SellerHost)
	}
	if clean.BuyerLeg.Asset.Token != "BTK" {
		t.Fatalf("token symbol not canonicalised: %q", clean.BuyerLeg.Asset.Token)
	}

	negative := base()
	negative.SellerLeg.Amount = big.NewInt(-1)
	if _, err := Sanitize(negative); err == nil {
		t.Fatalf("negative amount accepted")
	}

	blank := base()
	blank.BuyerHost = "   "
	if _, err := Sanitize(blank); err == nil {
		t.Fatalf("blank host accepted")
	}

	if _, err := Sanitize(nil); err == nil {
		t.Fatalf("nil escrow accepted")
	}

	// Sanitize never mutates its input.
	input := base()
	if _, err := Sanitize(input); err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if input.SellerHost != "  ledger-1  " {
		t.Fatalf("input mutated: %q", input.SellerHost)
	}
}
