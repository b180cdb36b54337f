package publishers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"proxyhealth/internal/model"
)

type entry struct {
	URL         string     `json:"url"`
	Score       int        `json:"score"`
	Status      string     `json:"status"`
	Country     string     `json:"country,omitempty"`
	City        string     `json:"city,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// GeneratePayload renders proxies in the order given. Params:
//   - format: "url" (default, scheme://host:port), "plain" (host:port) or "json"
//   - remarks: append "# <flag> <country> <score>" to url and plain lines
//   - base64: encode the whole payload
func GeneratePayload(proxies []model.Proxy, params map[string]interface{}) (string, error) {
	format, _ := params["format"].(string)
	remarks, _ := params["remarks"].(bool)

	var text string
	switch format {
	case "", "url", "plain":
		lines := make([]string, 0, len(proxies))
		for _, p := range proxies {
			line := p.URL()
			if format == "plain" {
				line = p.Address()
			}
			if remarks {
				line += fmt.Sprintf(" # %s %s %d", getFlagEmoji(p.Country), p.Country, p.Score)
			}
			lines = append(lines, line)
		}
		text = strings.Join(lines, "\n")
	case "json":
		entries := make([]entry, 0, len(proxies))
		for _, p := range proxies {
			entries = append(entries, entry{
				URL:         p.URL(),
				Score:       p.Score,
				Status:      string(p.Status),
				Country:     p.Country,
				City:        p.City,
				LastChecked: p.LastChecked,
			})
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", err
		}
		text = string(data)
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}

	if useBase64, _ := params["base64"].(bool); useBase64 {
		return base64.StdEncoding.EncodeToString([]byte(text)), nil
	}
	return text, nil
}

func getFlagEmoji(countryCode string) string {
	if len(countryCode) != 2 {
		return "🌐"
	}
	countryCode = strings.ToUpper(countryCode)
	return string(rune(countryCode[0])+127397) + string(rune(countryCode[1])+127397)
}
