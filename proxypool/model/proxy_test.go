package model

import "testing"

func TestParseProtocol(t *testing.T) {
	cases := map[string]Protocol{
		"http":    ProtocolHTTP,
		"HTTPS":   ProtocolHTTPS,
		" socks4": ProtocolSOCKS4,
		"Socks5":  ProtocolSOCKS5,
		"ftp":     ProtocolUnknown,
		"":        ProtocolUnknown,
	}
	for in, want := range cases {
		if got := ParseProtocol(in); got != want {
			t.Errorf("ParseProtocol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedup_StructuralEquality(t *testing.T) {
	records := []ProxyRecord{
		{IP: "1.1.1.1", Port: 80, Type: ProtocolHTTP, Working: Bool(true)},
		{IP: "1.1.1.1", Port: 80, Type: ProtocolHTTP, Working: Bool(true)},
		{IP: "1.1.1.1", Port: 80, Type: ProtocolHTTP, Working: Bool(false)},
		{IP: "1.1.1.1", Port: 80, Type: ProtocolHTTP},
		{IP: "1.1.1.1", Port: 80, Type: ProtocolSOCKS5, Working: Bool(true)},
	}

	got := Dedup(records)
	if len(got) != 4 {
		t.Fatalf("Expected 4 distinct records, got %d: %+v", len(got), got)
	}
	if got[0].Key() != records[0].Key() || got[3].Type != ProtocolSOCKS5 {
		t.Errorf("Expected first-seen order to be kept, got %+v", got)
	}
}

func TestAddress(t *testing.T) {
	if got := (ProxyRecord{IP: "1.2.3.4", Port: 8080}).Address(); got != "1.2.3.4:8080" {
		t.Errorf("Unexpected address %q", got)
	}
	if got := (ProxyRecord{IP: "::1", Port: 1080}).Address(); got != "[::1]:1080" {
		t.Errorf("Unexpected IPv6 address %q", got)
	}
}

func TestExtractionRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    ExtractionRule
		wantErr bool
	}{
		{"split", ExtractionRule{Kind: RuleSplit}, false},
		{"regex without expression", ExtractionRule{Kind: RuleRegex}, true},
		{"json without path", ExtractionRule{Kind: RuleJSON}, true},
		{"json ok", ExtractionRule{Kind: RuleJSON, Path: &FieldPath{IP: "ip", Port: "port"}}, false},
		{"objects", ExtractionRule{Kind: RuleObjects}, false},
		{"html without selector", ExtractionRule{Kind: RuleHTML}, true},
		{"unknown kind", ExtractionRule{Kind: "xml"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rule.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
