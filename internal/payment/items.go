// internal/payment/items.go
package payment

import (
	"regexp"
	"strconv"
	"strings"
)

// metadataItemKeys are checked in order on Stripe metadata.
var metadataItemKeys = []string{"item_id", "pack_id", "itemId", "packId"}

// customIDSegment matches "7", "item:7", "pack_7", "item=7", "ITEM-7".
var customIDSegment = regexp.MustCompile(`(?i)^(?:item|pack)?[\s_:=-]*(\d+)$`)

// itemFromMetadata returns (id, present, ok). present with !ok means the key
// exists but does not hold a positive integer.
func itemFromMetadata(metadata map[string]string) (int64, bool, bool) {
	for _, key := range metadataItemKeys {
		raw, exists := metadata[key]
		if !exists || strings.TrimSpace(raw) == "" {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || id <= 0 {
			return 0, true, false
		}
		return id, true, true
	}
	return 0, false, false
}

// itemFromCustomID extracts an item id from a PayPal purchase unit custom_id.
// Segments separated by | ; or , are tried in order; the first match wins.
func itemFromCustomID(customID string) (int64, bool) {
	for _, seg := range strings.FieldsFunc(customID, func(r rune) bool {
		return r == '|' || r == ';' || r == ','
	}) {
		m := customIDSegment.FindStringSubmatch(strings.TrimSpace(seg))
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}

// campaignTags copies utm_* metadata.
func campaignTags(metadata map[string]string) map[string]string {
	var tags map[string]string
	for k, v := range metadata {
		if !strings.HasPrefix(strings.ToLower(k), "utm_") || v == "" {
			continue
		}
		if tags == nil {
			tags = make(map[string]string)
		}
		tags[strings.ToLower(k)] = v
	}
	return tags
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
