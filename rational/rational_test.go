package rational

import "testing"

func TestReduceNormalizesFractionAndSign(t *testing.T) {
	cases := []struct {
		in, want Rational32
	}{
		{Rational32{2, 4}, Rational32{1, 2}},
		{Rational32{2, -4}, Rational32{-1, 2}},
		{Rational32{-2, -4}, Rational32{1, 2}},
	}
	for _, tc := range cases {
		if got := tc.in.Reduce(); got != tc.want {
			t.Errorf("Reduce(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAddUsesLcmDenominator(t *testing.T) {
	sum := Rational32{1, 2}.Add(Rational32{1, 3})
	if !sum.Eq(Rational32{5, 6}) {
		t.Errorf("1/2 + 1/3 = %v, want 5/6", sum)
	}
	sum2 := Rational32{1, 6}.Add(Rational32{1, 4})
	if !sum2.Eq(Rational32{5, 12}) {
		t.Errorf("1/6 + 1/4 = %v, want 5/12", sum2)
	}
}

func TestMulAndDivProduceExpectedResults(t *testing.T) {
	product := Rational32{1, 2}.Mul(Rational32{1, 3})
	if !product.Reduce().Eq(Rational32{1, 6}) {
		t.Errorf("1/2 * 1/3 = %v, want 1/6", product)
	}
	quotient := Rational32{1, 2}.Div(Rational32{2, 3})
	if !quotient.Reduce().Eq(Rational32{3, 4}) {
		t.Errorf("(1/2) / (2/3) = %v, want 3/4", quotient)
	}
}

func TestMulByIntegerAndNegationWork(t *testing.T) {
	if got := (Rational32{3, 5}).MulInt(2).Reduce(); !got.Eq(Rational32{6, 5}) {
		t.Errorf("3/5 * 2 = %v, want 6/5", got)
	}
	if got := (Rational32{3, 5}).Neg().Reduce(); !got.Eq(Rational32{-3, 5}) {
		t.Errorf("-(3/5) = %v, want -3/5", got)
	}
}

func TestOrderingAndEqualityUseReducedForm(t *testing.T) {
	if !(Rational32{1, 2}).Eq(Rational32{2, 4}) {
		t.Error("1/2 should equal 2/4")
	}
	if (Rational32{1, 3}).Cmp(Rational32{1, 2}) >= 0 {
		t.Error("1/3 should be less than 1/2")
	}
	if (Rational32{-1, 2}).Cmp(Rational32{1, 3}) >= 0 {
		t.Error("-1/2 should be less than 1/3")
	}
}

func TestReductToConvertsToCompatibleDenominator(t *testing.T) {
	cases := []struct {
		in     Rational32
		denom  int32
		want   Rational32
	}{
		{Rational32{1, 2}, 4, Rational32{2, 4}},
		{Rational32{1, 3}, 6, Rational32{2, 6}},
		{Rational32{2, 8}, 4, Rational32{1, 4}},
		{Rational32{1, 2}, 6, Rational32{3, 6}},
	}
	for _, tc := range cases {
		if got := tc.in.ReductTo(tc.denom); got != tc.want {
			t.Errorf("%v.ReductTo(%d) = %v, want %v", tc.in, tc.denom, got, tc.want)
		}
	}
}

func TestFloatAndZeroHelpersWork(t *testing.T) {
	if !Zero().IsZero() {
		t.Error("Zero() should be zero")
	}
	if v := (Rational32{1, 4}).Float32(); v != 0.25 {
		t.Errorf("1/4 as float32 = %v, want 0.25", v)
	}
}

func TestNewPanicsOnZeroDenominator(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(1, 0) should panic")
		}
	}()
	New(1, 0)
}

func TestDivPanicsOnZeroNumeratorRhs(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("dividing by 0/3 should panic")
		}
	}()
	Rational32{1, 2}.Div(Rational32{0, 3})
}
