package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
)

const DefaultWMSVersion = "1.1.0"

// Capabilities is the dedup key of a GetCapabilities request.
func Capabilities(server, version string) string {
	if version == "" {
		version = DefaultWMSVersion
	}
	return server + "@@@" + version
}

// Texture is the dedup key of a WMS tile covering bb.
func Texture(bb model.BBox) string {
	return "texture-" +
		model.FormatCoord(bb.BottomLeft.X) + "-" +
		model.FormatCoord(bb.BottomLeft.Y) + "-" +
		model.FormatCoord(bb.TopRight.X) + "-" +
		model.FormatCoord(bb.TopRight.Y) +
		".jpg"
}

// QuadKeyTile is the dedup key of a quadkey addressed tile.
func QuadKeyTile(quadKey string) string {
	return "bing-" + quadKey + ".jpeg"
}

// StoreKey maps a request key onto a Redis key. The readable part is
// sanitized and truncated; the hash suffix keeps distinct inputs apart.
func StoreKey(namespace, requestKey string) string {
	safe := sanitizeForKey(strings.TrimSpace(requestKey))

	const maxKeyTextLen = 160
	if len(safe) > maxKeyTextLen {
		safe = safe[:maxKeyTextLen]
	}

	sum := xxhash.Sum64String(requestKey)
	return fmt.Sprintf("%s:%s:h=%016x", sanitizeForKey(namespace), safe, sum)
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
