package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// hmacFieldOrder is the fixed, lexicographic field list Accept signs
// transaction callbacks with. Nested fields use dot paths.
var hmacFieldOrder = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

// ComputeCallbackHMAC concatenates the ordered callback fields and
// signs them with HMAC-SHA512. The payload must be decoded with
// json.Decoder.UseNumber so numeric fields keep their wire formatting.
func ComputeCallbackHMAC(payload map[string]any, secret string) string {
	var builder strings.Builder
	for _, field := range hmacFieldOrder {
		builder.WriteString(stringifyField(lookupPath(payload, field)))
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(builder.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallbackHMAC reports whether the provided signature matches the
// payload, using a constant-time comparison.
func VerifyCallbackHMAC(payload map[string]any, secret, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	computed := ComputeCallbackHMAC(payload, secret)
	return hmac.Equal([]byte(computed), []byte(strings.ToLower(provided)))
}

func lookupPath(payload map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = payload
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[part]
		if !ok {
			return nil
		}
	}
	return current
}

func stringifyField(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
