package driver

import "testing"

func TestParseSelector(t *testing.T) {
	cases := []struct {
		raw  string
		kind SelectorKind
		val  string
	}{
		{"//div[@id='x']", KindXPath, "//div[@id='x']"},
		{"/html/body", KindXPath, "/html/body"},
		{"#submit", KindID, "submit"},
		{".btn", KindClass, "btn"},
		{"name=email", KindName, "email"},
		{"button", KindTag, "button"},
		{"h3", KindTag, "h3"},
		{"div.container > span", KindCSS, "div.container > span"},
		{".btn.primary", KindCSS, ".btn.primary"},
		{".btn active", KindCSS, ".btn active"},
		{"unknown-tag", KindCSS, "unknown-tag"},
	}

	for _, c := range cases {
		got := ParseSelector(c.raw)
		if got.Kind != c.kind || got.Value != c.val {
			t.Errorf("ParseSelector(%q) = {%v, %q}, want {%v, %q}", c.raw, got.Kind, got.Value, c.kind, c.val)
		}
	}
}
