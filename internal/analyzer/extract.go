package analyzer

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"chainwatch/internal/feed"
)

// Field extraction on feed.Item is deliberately loose — the upstream page
// is untyped JSON and different endpoints spell the same concept
// differently (hash/txHash/transactionHash), so every accessor takes a
// list of candidate keys and a type switch handles the JSON value shapes
// an explorer may emit (string, hex string, number, json.Number).

func getString(item feed.Item, keys ...string) string {
	for _, key := range keys {
		if v, ok := item[key]; ok {
			if s, ok := parseStringValue(v); ok {
				return s
			}
		}
	}
	return ""
}

func getBool(item feed.Item, keys ...string) bool {
	for _, key := range keys {
		if v, ok := item[key]; ok {
			switch b := v.(type) {
			case bool:
				return b
			case string:
				if parsed, err := strconv.ParseBool(b); err == nil {
					return parsed
				}
			}
		}
	}
	return false
}

func getBigString(item feed.Item, keys ...string) string {
	for _, key := range keys {
		if v, ok := item[key]; ok {
			if s, ok := parseBigIntString(v); ok {
				return s
			}
		}
	}
	return "0"
}

func getInt(item feed.Item, keys ...string) int {
	for _, key := range keys {
		if v, ok := item[key]; ok {
			if n, ok := parseIntValue(v); ok {
				return n
			}
		}
	}
	return 0
}

func getTime(item feed.Item, keys ...string) time.Time {
	for _, key := range keys {
		v, ok := item[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339, t); err == nil {
				return parsed
			}
		case float64:
			return time.Unix(int64(t), 0).UTC()
		}
	}
	return time.Now().UTC()
}

func parseStringValue(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", false
		}
		return s, true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

func parseIntValue(value interface{}) (int, bool) {
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func parseBigIntString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", false
		}
		lower := strings.ToLower(s)
		if strings.HasPrefix(lower, "0x") {
			hexPart := lower[2:]
			if hexPart == "" {
				return "", false
			}
			if bi, ok := new(big.Int).SetString(hexPart, 16); ok {
				return bi.String(), true
			}
			return "", false
		}
		if bi, ok := new(big.Int).SetString(s, 10); ok {
			return bi.String(), true
		}
		return "", false
	case json.Number:
		return parseBigIntString(v.String())
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return "", false
		}
		return strconv.FormatUint(uint64(v), 10), true
	case int:
		if v < 0 {
			return "", false
		}
		return strconv.Itoa(v), true
	}
	return "", false
}
