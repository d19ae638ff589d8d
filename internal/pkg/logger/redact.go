package logger

import "strings"

// RedactEmail masks a recipient address for logs, keeping enough of the
// local part to correlate entries by eye. The domain stays visible.
//
//	"ada.lovelace@example.com" → "ad***@example.com"
//	"ab@example.com"           → "***@example.com"
func RedactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "***@***"
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
