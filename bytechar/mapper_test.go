package bytechar

import "testing"

func TestMapperAsciiAndNewlines(t *testing.T) {
	s := "a\n\r\nb"
	m := New([]byte(s))

	if got := m.CharLen(); got != 4 {
		t.Fatalf("CharLen() = %d, want 4", got)
	}
	if got := m.ByteLen(); got != uint32(len(s)) {
		t.Fatalf("ByteLen() = %d, want %d", got, len(s))
	}

	wantCharToByte := []uint32{0, 1, 2, 4, 5}
	for ch, want := range wantCharToByte {
		if got := m.CharToByte(uint32(ch)); got != want {
			t.Errorf("CharToByte(%d) = %d, want %d", ch, got, want)
		}
	}

	wantByteToChar := []uint32{0, 1, 2, 2, 3, 4}
	for b, want := range wantByteToChar {
		if got := m.ByteToChar(uint32(b)); got != want {
			t.Errorf("ByteToChar(%d) = %d, want %d", b, got, want)
		}
	}
}

func TestMapperUnicodeScalarAsOneCharUnit(t *testing.T) {
	s := "a😊\n\r\nb"
	if len(s) != 9 {
		t.Fatalf("test fixture byte length = %d, want 9", len(s))
	}
	m := New([]byte(s))

	if got := m.CharLen(); got != 5 {
		t.Fatalf("CharLen() = %d, want 5", got)
	}

	wantCharToByte := []uint32{0, 1, 5, 6, 8, 9}
	for ch, want := range wantCharToByte {
		if got := m.CharToByte(uint32(ch)); got != want {
			t.Errorf("CharToByte(%d) = %d, want %d", ch, got, want)
		}
	}

	for _, b := range []uint32{2, 3, 4} {
		if got := m.ByteToChar(b); got != 1 {
			t.Errorf("ByteToChar(%d) = %d, want 1 (inside emoji sequence)", b, got)
		}
	}
}

func TestMapperEmptySource(t *testing.T) {
	m := New(nil)
	if got := m.CharLen(); got != 0 {
		t.Fatalf("CharLen() = %d, want 0", got)
	}
	if got := m.ByteLen(); got != 0 {
		t.Fatalf("ByteLen() = %d, want 0", got)
	}
	if got := m.CharToByte(0); got != 0 {
		t.Fatalf("CharToByte(0) = %d, want 0", got)
	}
}

func TestMapperRangeConversionsClampAndOrder(t *testing.T) {
	m := New([]byte("abc"))
	from, to := m.ByteRangeToChar(0, 3)
	if from != 0 || to != 3 {
		t.Fatalf("ByteRangeToChar(0,3) = (%d,%d), want (0,3)", from, to)
	}
	from, to = m.ByteRangeToChar(100, 0)
	if from != 0 || to != 3 {
		t.Fatalf("ByteRangeToChar(100,0) = (%d,%d), want (0,3) after clamp+swap", from, to)
	}
}
