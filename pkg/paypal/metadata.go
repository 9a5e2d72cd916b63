package paypal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidCustomID = errors.New("paypal: invalid custom_id")

// OrderMetadata is what an order carries in purchase_units[0].custom_id.
type OrderMetadata struct {
	UserID    string `json:"user_id"`
	Coins     int64  `json:"coins"`
	PackageID string `json:"package_id,omitempty"`
}

// EncodeOrderMetadata produces the JSON encoding used for new orders.
func EncodeOrderMetadata(m OrderMetadata) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseOrderMetadata accepts both encodings orders have been created with:
// the legacy "userId|coins" form and the JSON object form whose keys may be
// snake_case or camelCase.
func ParseOrderMetadata(raw string) (*OrderMetadata, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCustomID)
	}

	var m *OrderMetadata
	var err error
	if strings.HasPrefix(raw, "{") {
		m, err = parseJSONMetadata(raw)
	} else {
		m, err = parsePipeMetadata(raw)
	}
	if err != nil {
		return nil, err
	}

	if m.UserID == "" || m.Coins <= 0 {
		return nil, fmt.Errorf("%w: missing user or coins", ErrInvalidCustomID)
	}
	return m, nil
}

func parsePipeMetadata(raw string) (*OrderMetadata, error) {
	parts := strings.Split(raw, "|")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCustomID, raw)
	}
	coins, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: coins %q", ErrInvalidCustomID, parts[1])
	}
	return &OrderMetadata{UserID: strings.TrimSpace(parts[0]), Coins: coins}, nil
}

type jsonMetadata struct {
	UserID         string      `json:"user_id"`
	UserIDCamel    string      `json:"userId"`
	Coins          json.Number `json:"coins"`
	PackageID      string      `json:"package_id"`
	PackageIDCamel string      `json:"packageId"`
}

func parseJSONMetadata(raw string) (*OrderMetadata, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var j jsonMetadata
	if err := dec.Decode(&j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCustomID, err)
	}

	m := &OrderMetadata{
		UserID:    firstNonEmpty(j.UserID, j.UserIDCamel),
		PackageID: firstNonEmpty(j.PackageID, j.PackageIDCamel),
	}
	if j.Coins != "" {
		f, err := j.Coins.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: coins %q", ErrInvalidCustomID, j.Coins)
		}
		m.Coins = int64(f)
	}
	return m, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
