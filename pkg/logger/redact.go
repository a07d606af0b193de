package logger

import "strings"

// RedactEmail keeps the first character of the local part and the domain: "a***@example.com".
func RedactEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// RedactPhone keeps only the last four digits: "***1234".
func RedactPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 4 {
		if phone == "" {
			return ""
		}
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}
