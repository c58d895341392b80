package newsletter

import (
	"encoding/base64"
	"errors"
	"strconv"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// mustParseUint64 parses a mailbox's stored history cursor. A malformed or
// empty cursor is treated as 0, which Gmail's history.list rejects with a
// 404 the same way it does a too-old cursor, sending the caller down the
// ListRecent fallback path.
func mustParseUint64(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// isGoogleNotFound reports whether err is a googleapi 404, the signal Gmail
// uses both for an unknown message and for a history cursor too old to be
// resolved (spec.md §4.6: "fall back to an initial query").
func isGoogleNotFound(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 404
	}
	return false
}

// extractBodyParts walks a message's MIME tree depth-first and returns the
// first text/html and text/plain parts found, base64url-decoded.
func extractBodyParts(part *gmail.MessagePart) (html, text string) {
	if part == nil {
		return "", ""
	}

	if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/html":
			if html == "" {
				html = decodeBase64URL(part.Body.Data)
			}
		case "text/plain":
			if text == "" {
				text = decodeBase64URL(part.Body.Data)
			}
		}
	}

	for _, child := range part.Parts {
		childHTML, childText := extractBodyParts(child)
		if html == "" {
			html = childHTML
		}
		if text == "" {
			text = childText
		}
		if html != "" && text != "" {
			break
		}
	}

	return html, text
}

func decodeBase64URL(data string) string {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		return ""
	}
	return string(decoded)
}
