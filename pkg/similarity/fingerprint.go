package similarity

import "github.com/Sriram-PR/crawl-frontier/pkg/utils"

// Fingerprint returns the hex SHA-256 of content, used as the exact-duplicate key
func Fingerprint(content []byte) string {
	return utils.CalculateBytesSHA256(content)
}

// FingerprintText is Fingerprint for extracted text
func FingerprintText(text string) string {
	return utils.CalculateStringSHA256(text)
}
