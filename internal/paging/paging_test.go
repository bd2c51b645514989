package paging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	sessionIDs := []string{"s1", "0b7c1d3e-2f4a-4c5b-9d6e-7f8a9b0c1d2e", "x_y-z", "ä"}
	for _, kind := range []string{KindHelp, KindDBRows, KindInstruments} {
		for _, sid := range sessionIDs {
			for _, page := range []int{0, 1, 10, 9999} {
				enc := Encode(kind, sid, page)
				got, ok := Decode(enc)
				require.True(t, ok, "decode %q", enc)
				require.Equal(t, Token{Kind: kind, SessionID: sid, Page: page}, got)
			}
		}
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := []string{
		"",
		"h",
		"h:abc",
		"h:abc:1:2",
		"h:abc:-1",
		"h:abc:x",
		"h:abc:007",
		"h:abc:+5",
		"h:abc:-0",
		"h:abc: 1",
		"h::1",
		":abc:1",
		"cmd:help:1a",
		"/help",
	}
	for _, c := range cases {
		_, ok := Decode(c)
		require.False(t, ok, "Decode(%q) should fail", c)
	}
}

func TestDecode_ReencodesExactly(t *testing.T) {
	for _, s := range []string{"h:s1:0", "m:s1:7", "mi:abc-123:120"} {
		tok, ok := Decode(s)
		require.True(t, ok, "Decode(%q)", s)
		require.Equal(t, s, Encode(tok.Kind, tok.SessionID, tok.Page))
	}
}

func TestDecodeKnown(t *testing.T) {
	_, ok := DecodeKnown("mi:s:10")
	require.True(t, ok)
	_, ok = DecodeKnown("zz:s:10")
	require.False(t, ok, "unknown kind must not be a pagination token")
}

func TestBlobRoundTrip(t *testing.T) {
	b := NewBlob().
		Set("sql", "SELECT * FROM t WHERE a = 'x&y=z'").
		SetInt("limit", 10).
		Set("title", "Мои таблицы").
		Set("empty", "   ").
		SetBool("compact", false).
		SetBool("wide", true)

	got := DecodeBlob(b.Encode())
	require.Equal(t, map[string]string{
		"sql":   "SELECT * FROM t WHERE a = 'x&y=z'",
		"limit": "10",
		"title": "Мои таблицы",
		"wide":  "1",
	}, got.Map())
	require.Equal(t, []string{"sql", "limit", "title", "wide"}, got.Keys())
}

func TestBlobEncode_Order(t *testing.T) {
	b := NewBlob().SetInt("limit", 10).SetInt("offset", 0).Set("board", "TQBR")
	require.Equal(t, "limit=10&offset=0&board=TQBR", b.Encode())
}

func TestBlobEncode_BlankOmitted(t *testing.T) {
	b := NewBlob().Set("a", "1").Set("b", "").Set("c", "3")
	require.Equal(t, "a=1&c=3", b.Encode())

	b.Set("a", "")
	require.Equal(t, "c=3", b.Encode())
}

func TestDecodeBlob_SkipsMalformed(t *testing.T) {
	got := DecodeBlob("a=1&broken&=nokey&b=%zz&c=3&d=")
	require.Equal(t, map[string]string{"a": "1", "c": "3"}, got.Map())
}

func TestBlob_Accessors(t *testing.T) {
	b := DecodeBlob("limit=25&bad=x&flag=1")
	require.Equal(t, 25, b.Int("limit", 10))
	require.Equal(t, 7, b.Int("bad", 7))
	require.Equal(t, 3, b.Int("missing", 3))
	require.True(t, b.Bool("flag"))
	require.False(t, b.Bool("missing"))
}

func TestEncodeMap(t *testing.T) {
	got := EncodeMap(map[string]string{"offset": "0", "limit": "10", "board": "TQBR"}, "limit", "offset", "board")
	require.Equal(t, "limit=10&offset=0&board=TQBR", got)
}

func ExampleEncode() {
	fmt.Println(Encode(KindInstruments, "abc", 10))
	// Output: mi:abc:10
}
