package node

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/mergesub/internal/model"
)

// vmessRewriter handles vmess://<base64 JSON>. Only the "add" and "port"
// fields are replaced; every other field keeps its original JSON value.
type vmessRewriter struct{}

func (vmessRewriter) Rewrite(line string, relay model.RelayTarget) (string, error) {
	payload := strings.TrimPrefix(line, SchemeVmess.Prefix())
	raw, err := decodeStd(payload)
	if err != nil {
		return line, &DecodeError{Scheme: SchemeVmess, Cause: err}
	}

	var rec map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rec); err != nil {
		return line, &DecodeError{Scheme: SchemeVmess, Cause: err}
	}

	if !rewritableTransport(stringField(rec, "net")) || stringField(rec, "tls") != "tls" {
		return line, nil
	}
	// A host pinned to the current address means the node is routed directly.
	if host := stringField(rec, "host"); host != "" && host == stringField(rec, "add") {
		return line, nil
	}

	port, err := strconv.Atoi(relay.Port)
	if err != nil {
		return line, fmt.Errorf("%w: %q", ErrRelayPort, relay.Port)
	}
	rec["add"], _ = json.Marshal(relay.Address)
	rec["port"] = json.RawMessage(strconv.Itoa(port))

	out, err := marshalNoEscape(rec)
	if err != nil {
		return line, &DecodeError{Scheme: SchemeVmess, Cause: err}
	}
	return SchemeVmess.Prefix() + base64.StdEncoding.EncodeToString(out), nil
}

// stringField returns the string value of key, or "" when it is absent or not
// a JSON string.
func stringField(rec map[string]json.RawMessage, key string) string {
	raw, ok := rec[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// marshalNoEscape keeps '&', '<' and '>' in node names as-is.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
