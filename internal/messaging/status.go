package messaging

import "strings"

var statusRank = map[Status]int{
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// CanTransition reports whether a message may move from -> to.
//
// The outbound lifecycle only moves forward (sending, sent, delivered, read) and may skip
// steps. failed is reachable from sending or sent only. received, failed and read are terminal.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusReceived, StatusFailed, StatusRead:
		return false
	}
	if to == StatusFailed {
		return from == StatusSending || from == StatusSent
	}
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// MapTwilioStatus maps a Twilio MessageStatus to our lifecycle. Unknown words map to "".
func MapTwilioStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "accepted", "scheduled", "sending":
		return StatusSending
	case "sent":
		return StatusSent
	case "delivered":
		return StatusDelivered
	case "read":
		return StatusRead
	case "failed", "undelivered", "canceled":
		return StatusFailed
	case "receiving", "received":
		return StatusReceived
	default:
		return ""
	}
}

// afterDispatch is the status recorded once a provider accepted a send.
// Providers that already report something further along win.
func afterDispatch(providerStatus string) Status {
	mapped := MapTwilioStatus(providerStatus)
	if statusRank[mapped] > statusRank[StatusSent] {
		return mapped
	}
	return StatusSent
}
