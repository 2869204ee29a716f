package utils

import "testing"

func TestIsIPAddress(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"172.118.57.100", true},
		{"0.0.0.0", true},
		{"255.255.255.255", true},
		{"256.1.1.1", false},
		{"10.0.0", false},
		{"https://10.0.0.1", false},
		{"host.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsIPAddress(tt.in); got != tt.want {
			t.Errorf("IsIPAddress(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestToHTTPSURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"172.118.57.100", "https://172.118.57.100"},
		{" 10.0.0.1 ", "https://10.0.0.1"},
		{"https://10.0.0.1", "https://10.0.0.1"},
		{"http://archer.local", "http://archer.local"},
		{"300.1.1.1", "300.1.1.1"},
	}
	for _, tt := range tests {
		if got := ToHTTPSURL(tt.in); got != tt.want {
			t.Errorf("ToHTTPSURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestURLHelpers(t *testing.T) {
	if !IsHTTPSURL("http://x") || !IsHTTPSURL("https://x") || IsHTTPSURL("ftp://x") {
		t.Error("IsHTTPSURL scheme detection is wrong")
	}
	if got := ExtractIPv4("https://172.118.57.100:8443/api"); got != "172.118.57.100" {
		t.Errorf("ExtractIPv4() = %q", got)
	}
	if got := ExtractIPv4("https://archer.local"); got != "" {
		t.Errorf("ExtractIPv4() = %q, want empty", got)
	}
	if got := NormalizePlatformURL("10.0.0.1"); got != "https://10.0.0.1" {
		t.Errorf("NormalizePlatformURL() = %q", got)
	}
	if got := NormalizePlatformURL("https://10.0.0.1/"); got != "https://10.0.0.1" {
		t.Errorf("NormalizePlatformURL() = %q", got)
	}
}
