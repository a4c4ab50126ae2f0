package runparams

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Compress serializes a payload as base64(urlencode(json)).
func Compress(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(urlEncode(string(b)))), nil
}

// Decompress reverses Compress.
func Decompress(compressed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(compressed)
	if err != nil {
		return nil, fmt.Errorf("decode compressed parameters: %w", err)
	}
	s, err := url.QueryUnescape(string(raw))
	if err != nil {
		return nil, fmt.Errorf("unescape compressed parameters: %w", err)
	}
	return []byte(s), nil
}

// Hash computes the dedupe key of a payload. queued_time is excluded so
// the same logical parameters hash equally across dispatches.
func Hash(p Payload) (string, error) {
	p.Parameters.QueuedTime = ""
	compressed, err := Compress(p)
	if err != nil {
		return "", err
	}
	sha := sha256.Sum256([]byte(compressed))
	return hex.EncodeToString(sha[:]), nil
}

// ProjectionQuery builds the extraction query for a synchronize object.
// Columns are double-quoted; identifiers come from validated configuration.
func ProjectionQuery(schemaName string, objectName string, columns []string) string {
	if len(columns) == 0 {
		return fmt.Sprintf("SELECT * FROM %s.%s;", schemaName, objectName)
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
	}
	return fmt.Sprintf("SELECT %s FROM %s.%s;", strings.Join(quoted, ", "), schemaName, objectName)
}

// componentUnescaper restores the characters encodeURIComponent leaves
// as-is but url.QueryEscape escapes.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// urlEncode percent-encodes s the way encodeURIComponent does: spaces as
// %20, and ! ' ( ) * left unescaped.
func urlEncode(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
