package watcher

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vadiminshakov/datex/internal/domain"
)

const memoTypeText = "text"

// NormalizeMemo extracts the text memo of a record across the wire shapes
// seen in practice: plain string, raw bytes, base64 memo bytes and structured
// objects ({_type,_value}, {value}, {text}). It never panics; anything else
// reads as no memo.
func NormalizeMemo(rec domain.TransactionRecord) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()

	// none, id, hash and return memos never carry order ids
	if rec.MemoType != "" && rec.MemoType != memoTypeText {
		return "", false
	}

	if text, ok := memoValue(rec.Memo); ok {
		return text, true
	}
	if rec.MemoBytes != "" {
		if raw, err := base64.StdEncoding.DecodeString(rec.MemoBytes); err == nil && utf8.Valid(raw) {
			return string(raw), true
		}
	}

	return "", false
}

func memoValue(v any) (string, bool) {
	switch m := v.(type) {
	case nil:
		return "", false
	case string:
		return m, m != ""
	case []byte:
		if !utf8.Valid(m) || len(m) == 0 {
			return "", false
		}
		return string(m), true
	case fmt.Stringer:
		s := m.String()
		return s, s != ""
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(m, &decoded); err != nil {
			return "", false
		}
		return memoValue(decoded)
	case map[string]any:
		return memoObject(m)
	default:
		return "", false
	}
}

func memoObject(m map[string]any) (string, bool) {
	if typ, _ := m["_type"].(string); typ != "" {
		if !strings.EqualFold(typ, memoTypeText) {
			return "", false
		}
		switch val := m["_value"].(type) {
		case string:
			if raw, err := base64.StdEncoding.DecodeString(val); err == nil && utf8.Valid(raw) {
				return string(raw), len(raw) > 0
			}
			return val, val != ""
		default:
			return memoValue(val)
		}
	}

	if val, ok := m["value"]; ok {
		return memoValue(val)
	}
	if val, ok := m["text"]; ok {
		return memoValue(val)
	}

	return "", false
}

// OrderID returns the order id carried by the record memo, if any.
func OrderID(rec domain.TransactionRecord) (string, bool) {
	text, ok := NormalizeMemo(rec)
	if !ok {
		return "", false
	}
	return domain.ParsePurchaseMemo(text)
}
