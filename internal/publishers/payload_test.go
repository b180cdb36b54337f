package publishers

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"proxyhealth/internal/config"
	"proxyhealth/internal/model"
)

func samplePool() []model.Proxy {
	a := model.NewProxy("1.2.3.4", 8080, model.ProtocolHTTP, "x")
	a.Score, a.Country, a.Status = 90, "de", model.StatusActive
	b := model.NewProxy("5.6.7.8", 1080, model.ProtocolSOCKS5, "x")
	b.Score, b.Status = 70, model.StatusActive
	return []model.Proxy{*a, *b}
}

func TestGeneratePayload_Formats(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		want   string
	}{
		{"url", map[string]interface{}{}, "http://1.2.3.4:8080\nsocks5://5.6.7.8:1080"},
		{"plain", map[string]interface{}{"format": "plain"}, "1.2.3.4:8080\n5.6.7.8:1080"},
		{"remarks", map[string]interface{}{"remarks": true}, "http://1.2.3.4:8080 # 🇩🇪 de 90\nsocks5://5.6.7.8:1080 # 🌐  70"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GeneratePayload(samplePool(), tt.params)
			if err != nil {
				t.Fatalf("GeneratePayload: %v", err)
			}
			if got != tt.want {
				t.Errorf("payload =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestGeneratePayload_JSONBase64(t *testing.T) {
	got, err := GeneratePayload(samplePool(), map[string]interface{}{"format": "json", "base64": true})
	if err != nil {
		t.Fatalf("GeneratePayload: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 2 || entries[1].URL != "socks5://5.6.7.8:1080" || entries[0].Score != 90 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestGeneratePayload_UnknownFormat(t *testing.T) {
	if _, err := GeneratePayload(nil, map[string]interface{}{"format": "xml"}); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Errorf("err = %v", err)
	}
}

func TestFilter(t *testing.T) {
	f, err := Filter(config.PublisherConfig{Status: "ACTIVE", MinScore: 60, Limit: 5})
	if err != nil || f.Status != model.StatusActive || f.MinScore != 60 || f.Limit != 5 {
		t.Errorf("Filter = %+v, %v", f, err)
	}
	if f, _ := Filter(config.PublisherConfig{Status: "any"}); f.Status != "" {
		t.Errorf("any should not filter, got %q", f.Status)
	}
	if _, err := Filter(config.PublisherConfig{Status: "zombie"}); err == nil {
		t.Error("expected error for unknown status")
	}
}
