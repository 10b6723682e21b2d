package models

import "testing"

func TestKindFromMIME(t *testing.T) {
	cases := []struct {
		mime string
		want MessageKind
	}{
		{"", KindText},
		{"text/plain", KindText},
		{"text/plain; charset=utf-8", KindText},
		{"image/png", KindImage},
		{"image/jpeg", KindImage},
		{"video/mp4", KindVideo},
		{"application/pdf", KindFile},
		{"audio/mpeg", KindFile},
	}
	for _, tc := range cases {
		if got := KindFromMIME(tc.mime); got != tc.want {
			t.Errorf("KindFromMIME(%q) = %s, want %s", tc.mime, got, tc.want)
		}
	}
}
