package canonical

import (
	"strings"
	"testing"
)

func TestCanonicalBytes_KeyOrderIndependent(t *testing.T) {
	a, err := FromJSON([]byte(`{"b":1,"a":[true,null,"x"],"c":{"z":2,"y":3}}`))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	b, err := FromJSON([]byte(`{"c":{"y":3,"z":2},"a":[true,null,"x"],"b":1}`))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if got, want := string(Bytes(a)), string(Bytes(b)); got != want {
		t.Fatalf("key order changed canonical bytes: %q vs %q", got, want)
	}
	if want := `{"a":[true,null,"x"],"b":1,"c":{"y":3,"z":2}}`; string(Bytes(a)) != want {
		t.Fatalf("canonical form = %q, want %q", Bytes(a), want)
	}
}

func TestCanonicalBytes_ArrayOrderPreserved(t *testing.T) {
	a, _ := FromJSON([]byte(`[1,2,3]`))
	b, _ := FromJSON([]byte(`[3,2,1]`))
	if Hash(a) == Hash(b) {
		t.Fatal("array order must be significant")
	}
}

func TestHash_StableAndTamperSensitive(t *testing.T) {
	doc := []byte(`{"meta":{"id":"x"},"vals":[1,2,3],"ok":true}`)
	v1, _ := FromJSON(doc)
	v2, _ := FromJSON(doc)
	if Hash(v1) != Hash(v2) {
		t.Fatal("equal documents must hash equal")
	}
	if len(Hash(v1)) != 64 || strings.ToLower(Hash(v1)) != Hash(v1) {
		t.Fatalf("hash %q is not 64 lowercase hex", Hash(v1))
	}

	tampered, _ := FromJSON([]byte(`{"meta":{"id":"x"},"vals":[1,2,4],"ok":true}`))
	if Hash(v1) == Hash(tampered) {
		t.Fatal("tampering must change the hash")
	}
}

func TestFromJSON_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"float", `{"x":1.5}`},
		{"exponent", `{"x":1e3}`},
		{"huge int", `{"x":99999999999999999999999999}`},
		{"trailing garbage", `{"x":1} {"y":2}`},
		{"broken json", `{"x":`},
		// U+0041 U+030A (A + combining ring) is the NFD form of U+00C5.
		{"non-NFC string", "{\"x\":\"A\u030a\"}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromJSON([]byte(tt.raw)); err == nil {
				t.Fatalf("expected rejection for %s", tt.name)
			}
		})
	}
}

func TestFromJSON_AcceptsNFCUnicode(t *testing.T) {
	v, err := FromJSON([]byte("{\"name\":\"\u00c5sa\",\"note\":\"h\u00e9llo\"}"))
	if err != nil {
		t.Fatalf("NFC unicode must be representable: %v", err)
	}
	if Hash(v) == "" {
		t.Fatal("expected a hash")
	}
}

func TestString_ControlCharacterEscapes(t *testing.T) {
	v, err := FromJSON([]byte(`{"s":"a\nb\tcd"}`))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	want := `{"s":"a\nb\tcd"}`
	if got := string(Bytes(v)); got != want {
		t.Fatalf("escapes = %q, want %q", got, want)
	}
}

func TestFromGo_RoundTrip(t *testing.T) {
	type inner struct {
		N int    `json:"n"`
		S string `json:"s"`
	}
	v, err := FromGo(map[string]any{"a": inner{N: 2, S: "x"}, "b": []int{1, 2}})
	if err != nil {
		t.Fatalf("FromGo: %v", err)
	}
	want := `{"a":{"n":2,"s":"x"},"b":[1,2]}`
	if got := string(Bytes(v)); got != want {
		t.Fatalf("FromGo canonical form = %q, want %q", got, want)
	}
}
